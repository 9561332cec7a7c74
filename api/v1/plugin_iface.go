// Package v1: the berth plugin contract (PluginV1).
// External plugins implement this interface and export a "BerthPlugin" symbol.
package v1

// PluginAPIVersion is checked at plugin load time to reject incompatible plugins.
const PluginAPIVersion = "v1"

// Hook names fired by the orchestrator around lifecycle operations.
const (
	HookPreBuild    = "OnPreBuild"
	HookPostBuild   = "OnPostBuild"
	HookPreDeploy   = "OnPreDeploy"
	HookPostDeploy  = "OnPostDeploy"
	HookPreStart    = "OnPreStart"
	HookPostStart   = "OnPostStart"
	HookPreStop     = "OnPreStop"
	HookPostStop    = "OnPostStop"
	HookLink        = "OnLink"
	HookUnlink      = "OnUnlink"
	HookUndeploy    = "OnUndeploy"
	HookOperationOK = "OnOperationSucceeded"
)

// HookFunc is a function invoked at a named lifecycle point.
type HookFunc func(ctx HookContext) error

// HookContext carries contextual data passed to plugin hooks.
type HookContext struct {
	Op         string
	System     *System
	Definition *Definition
	Container  *Container
	Target     *Target
	Mode       Mode
	// Metadata is a free-form map for passing extension data between hooks.
	Metadata map[string]string
}

// PluginV1 is the interface every berth plugin must implement.
type PluginV1 interface {
	// Name returns the human-readable plugin identifier.
	Name() string

	// APIVersion must return exactly PluginAPIVersion.
	APIVersion() string

	// Init is called once after the plugin is loaded.
	// Return an error to abort loading.
	Init(cfg map[string]string) error

	// Hooks returns the named hooks this plugin subscribes to.
	Hooks() map[string]HookFunc

	// Shutdown is called when berth exits cleanly.
	Shutdown() error
}
