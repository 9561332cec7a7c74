package pprint

import "strings"

var bannerLines = []string{
	" ██████╗ ███████╗██████╗ ████████╗██╗  ██╗",
	" ██╔══██╗██╔════╝██╔══██╗╚══██╔══╝██║  ██║",
	" ██████╔╝█████╗  ██████╔╝   ██║   ███████║",
	" ██╔══██╗██╔══╝  ██╔══██╗   ██║   ██╔══██║",
	" ██████╔╝███████╗██║  ██║   ██║   ██║  ██║",
	" ╚═════╝ ╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝",
}

// PrintBanner prints the berth banner with version and tagline.
func PrintBanner(version, buildDate string) {
	styles := []func(...string) string{
		StylePrimary.Render, StylePrimary.Render,
		StyleAccent.Render, StyleAccent.Render,
		StyleText.Render, StyleMuted.Render,
	}
	var b strings.Builder
	b.WriteByte('\n')
	for i, l := range bannerLines {
		b.WriteString(styles[i](l) + "\n")
	}
	b.WriteString("\n" + StyleMuted.Render("  Build, ship and run containers on your own hosts") + "\n")
	v := StyleAccent.Render("  " + version)
	if buildDate != "" {
		v += StyleMuted.Render("  built " + buildDate)
	}
	b.WriteString(v + "\n")
	emit(stdout, b.String())
}
