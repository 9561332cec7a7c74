package retention

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectWithinWindow(t *testing.T) {
	for n := 0; n <= DefaultWindow; n++ {
		var tags []string
		for i := 0; i < n; i++ {
			tags = append(tags, fmt.Sprintf("repo:c%d:%d", i, i*100))
		}
		assert.Nil(t, Select(tags, "", DefaultWindow), "n=%d", n)
	}
}

func TestSelectSkipsCurrentAndFloating(t *testing.T) {
	tags := []string{
		"repo:cid:100",
		"repo:cid:200",
		"repo:other:50:latest",
		"repo:cid2:300",
		"repo:cid3:400",
		"repo:cid4:500",
	}
	assert.Equal(t, []string{"repo:cid:100"}, Select(tags, "cid4", 4))
}

func TestSelectAscendingOrder(t *testing.T) {
	tags := []string{
		"r/ns/web:a:900",
		"r/ns/web:b:100",
		"r/ns/web:c:500",
		"r/ns/web:d:300",
		"r/ns/web:e:700",
		"r/ns/web:f:200",
		"r/ns/web:latest",
	}
	got := Select(tags, "", 3)
	assert.Equal(t, []string{"r/ns/web:b:100", "r/ns/web:f:200", "r/ns/web:d:300"}, got)
}

func TestSelectNoCommitKeepsEverythingEligible(t *testing.T) {
	tags := []string{"a:x:1", "a:x:2", "a:x:3", "a:x:4", "a:x:5"}
	// an empty commit would otherwise match every tag
	assert.Equal(t, []string{"a:x:1"}, Select(tags, "", 4))
}

func TestSelectUnstructuredTagsNeverPurged(t *testing.T) {
	tags := []string{"web", "web:latest", "r:web:latest", "a:b:c:d", "x:y", "z"}
	assert.Nil(t, Select(tags, "", 2))
}

func TestSelectDefaultWindow(t *testing.T) {
	tags := []string{"a:x:1", "a:x:2", "a:x:3", "a:x:4", "a:x:5", "a:x:6"}
	assert.Equal(t, []string{"a:x:1", "a:x:2"}, Select(tags, "", 0))
}
