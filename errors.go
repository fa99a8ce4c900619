// errors.go: structured error definitions for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"github.com/agilira/go-errors"
)

// Error codes for the plugin runtime
const (
	// Discovery errors (1100-1199)
	ErrCodeScanRootUnreadable = "SCAN_1101"
	ErrCodeManifestParse      = "SCAN_1102"
	ErrCodeManifestInvalid    = "SCAN_1103"
	ErrCodeWatcherError       = "SCAN_1104"

	// Registry errors (1200-1299)
	ErrCodePluginNotFound    = "REGISTRY_1201"
	ErrCodeDependencyMissing = "REGISTRY_1202"
	ErrCodeDependencyCycle   = "REGISTRY_1203"

	// Loader errors (1300-1399)
	ErrCodeLoadValidation     = "LOAD_1301"
	ErrCodeLoadDependency     = "LOAD_1302"
	ErrCodeLoadTimeout        = "LOAD_1303"
	ErrCodeEntrypointUnknown  = "LOAD_1304"
	ErrCodeLoadFailed         = "LOAD_1305"
	ErrCodeRuntimeVersion     = "LOAD_1306"
	ErrCodeDuplicateFactory   = "LOAD_1307"
	ErrCodeUnloadFailed       = "LOAD_1308"

	// Registration errors (1400-1499)
	ErrCodeRegistrationFailed = "REGISTER_1401"
	ErrCodeUnregisterFailed   = "REGISTER_1402"
	ErrCodeControllerClosed   = "REGISTER_1403"

	// Health errors (1500-1599)
	ErrCodeHealthCheckFailed  = "HEALTH_1501"
	ErrCodeHealthCheckTimeout = "HEALTH_1502"

	// Circuit breaker errors (1600-1699)
	ErrCodeCircuitOpen = "CIRCUIT_1601"

	// Recovery errors (1700-1799)
	ErrCodeStrategyFailed  = "RECOVERY_1701"
	ErrCodeNoStrategy      = "RECOVERY_1702"
	ErrCodeInvalidStrategy = "RECOVERY_1703"

	// Lifecycle errors (1800-1899)
	ErrCodeVersionUnknown      = "LIFECYCLE_1801"
	ErrCodeNoRollbackPoint     = "LIFECYCLE_1802"
	ErrCodeIncompatibleUpgrade = "LIFECYCLE_1803"
	ErrCodeInstallFailed       = "LIFECYCLE_1804"
	ErrCodeMigrationFailed     = "LIFECYCLE_1805"
	ErrCodeRestoreFailed       = "LIFECYCLE_1806"

	// Runtime errors (1900-1999)
	ErrCodeRuntimeState = "RUNTIME_1901"
	ErrCodeVersionParse = "RUNTIME_1902"
)

// Discovery error constructors

func NewScanRootError(root string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeScanRootUnreadable, "Scan root unreadable").
		WithUserMessage("The configured scan root could not be read").
		WithContext("root", root).
		WithSeverity("warning")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Manifest parse error").
		WithUserMessage("The manifest file could not be parsed as JSON or YAML").
		WithContext("manifest_path", path).
		WithSeverity("warning")
}

func NewManifestInvalidError(path string, problems []string) *errors.Error {
	return errors.New(ErrCodeManifestInvalid, "Manifest validation failed").
		WithUserMessage("The manifest is missing required fields or has invalid values").
		WithContext("manifest_path", path).
		WithContext("problems", problems).
		WithSeverity("warning")
}

func NewWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeWatcherError, "Manifest watcher error: "+message).
		WithUserMessage("Manifest change monitoring failed").
		WithSeverity("error")
}

// Registry error constructors

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("The requested plugin is not present in the registry").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewDependencyMissingError(name string, missing []string) *errors.Error {
	return errors.New(ErrCodeDependencyMissing, "Plugin dependencies missing").
		WithUserMessage("One or more declared dependencies are not discovered").
		WithContext("plugin_name", name).
		WithContext("missing", missing).
		WithSeverity("error")
}

func NewDependencyCycleError(names []string) *errors.Error {
	return errors.New(ErrCodeDependencyCycle, "Dependency cycle detected").
		WithUserMessage("Plugin dependencies form a cycle and cannot be ordered").
		WithContext("plugins", names).
		WithSeverity("error")
}

// Loader error constructors

func NewLoadValidationError(name string, reason string) *errors.Error {
	return errors.New(ErrCodeLoadValidation, "Plugin validation failed: "+reason).
		WithUserMessage("The plugin metadata did not pass the validation gate").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewLoadDependencyError(name string, missing []string) *errors.Error {
	return errors.New(ErrCodeLoadDependency, "Plugin dependencies not loaded").
		WithUserMessage("Declared dependencies must be loaded before this plugin").
		WithContext("plugin_name", name).
		WithContext("missing", missing).
		WithSeverity("error")
}

func NewLoadTimeoutError(name string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeLoadTimeout, "Plugin load timeout").
		WithUserMessage("The plugin did not finish loading within the configured deadline").
		WithContext("plugin_name", name).
		WithContext("timeout", timeout).
		WithSeverity("warning").
		AsRetryable()
}

func NewEntrypointUnknownError(entrypoint string) *errors.Error {
	return errors.New(ErrCodeEntrypointUnknown, "Unknown plugin entrypoint").
		WithUserMessage("No factory is registered for the manifest entrypoint").
		WithContext("entrypoint", entrypoint).
		WithSeverity("error")
}

func NewLoadFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeLoadFailed, "Plugin load failed").
		WithUserMessage("The plugin unit failed to load").
		WithContext("plugin_name", name).
		WithSeverity("error").
		AsRetryable()
}

func NewRuntimeVersionError(name, bound, runtimeVersion string) *errors.Error {
	return errors.New(ErrCodeRuntimeVersion, "Runtime version out of bounds").
		WithUserMessage("The plugin declares a runtime version requirement this runtime does not satisfy").
		WithContext("plugin_name", name).
		WithContext("bound", bound).
		WithContext("runtime_version", runtimeVersion).
		WithSeverity("error")
}

func NewDuplicateFactoryError(entrypoint string) *errors.Error {
	return errors.New(ErrCodeDuplicateFactory, "Duplicate factory registration").
		WithUserMessage("A factory is already registered for this entrypoint").
		WithContext("entrypoint", entrypoint).
		WithSeverity("error")
}

func NewUnloadFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeUnloadFailed, "Plugin unload failed").
		WithUserMessage("The plugin unit failed to unload").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

// Registration error constructors

func NewRegistrationFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRegistrationFailed, "Plugin registration failed").
		WithUserMessage("The plugin could not be registered").
		WithContext("plugin_name", name).
		WithSeverity("error").
		AsRetryable()
}

func NewUnregisterFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeUnregisterFailed, "Plugin unregistration failed").
		WithUserMessage("The plugin could not be unregistered").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewControllerClosedError() *errors.Error {
	return errors.New(ErrCodeControllerClosed, "Controller closed").
		WithUserMessage("The registration controller has been shut down").
		WithSeverity("error")
}

// Health error constructors

func NewHealthCheckFailedError(component, reason string) *errors.Error {
	return errors.New(ErrCodeHealthCheckFailed, "Health check failed: "+reason).
		WithUserMessage("The component health check failed").
		WithContext("component", component).
		WithSeverity("warning")
}

func NewHealthCheckTimeoutError(component string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeHealthCheckTimeout, "Health check timeout").
		WithUserMessage("The component health check timed out").
		WithContext("component", component).
		WithContext("timeout", timeout).
		WithSeverity("warning").
		AsRetryable()
}

// Circuit breaker error constructors

func NewCircuitOpenError(component string) *errors.Error {
	return errors.New(ErrCodeCircuitOpen, "Circuit breaker open").
		WithUserMessage("Calls to this component are short-circuited until the recovery timeout passes").
		WithContext("component", component).
		WithSeverity("warning")
}

// Recovery error constructors

func NewStrategyFailedError(strategyID string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStrategyFailed, "Recovery strategy failed").
		WithUserMessage("The recovery strategy did not resolve the error").
		WithContext("strategy_id", strategyID).
		WithSeverity("warning")
}

func NewNoStrategyError(recordID string) *errors.Error {
	return errors.New(ErrCodeNoStrategy, "No applicable recovery strategy").
		WithUserMessage("No registered strategy matches the reported error").
		WithContext("error_id", recordID).
		WithSeverity("warning")
}

func NewInvalidStrategyError(reason string) *errors.Error {
	return errors.New(ErrCodeInvalidStrategy, "Invalid recovery strategy: "+reason).
		WithUserMessage("The recovery strategy definition is invalid").
		WithSeverity("error")
}

// Lifecycle error constructors

func NewVersionUnknownError(name string) *errors.Error {
	return errors.New(ErrCodeVersionUnknown, "Plugin version unknown").
		WithUserMessage("No installed version is known for this plugin").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewNoRollbackPointError(name, targetVersion string) *errors.Error {
	return errors.New(ErrCodeNoRollbackPoint, "No rollback point available").
		WithUserMessage("No rollback point exists for the requested downgrade").
		WithContext("plugin_name", name).
		WithContext("target_version", targetVersion).
		WithSeverity("error")
}

func NewIncompatibleUpgradeError(name, fromVersion, toVersion string, issues []string) *errors.Error {
	return errors.New(ErrCodeIncompatibleUpgrade, "Incompatible upgrade").
		WithUserMessage("The target version is not a valid upgrade").
		WithContext("plugin_name", name).
		WithContext("from_version", fromVersion).
		WithContext("to_version", toVersion).
		WithContext("issues", issues).
		WithSeverity("error")
}

func NewInstallFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInstallFailed, "Plugin install failed").
		WithUserMessage("The plugin version could not be installed").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewMigrationFailedError(name, fromVersion, toVersion string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMigrationFailed, "Migration hook failed").
		WithUserMessage("The migration between versions failed").
		WithContext("plugin_name", name).
		WithContext("from_version", fromVersion).
		WithContext("to_version", toVersion).
		WithSeverity("error")
}

func NewRestoreFailedError(name, version string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRestoreFailed, "Rollback restore failed").
		WithUserMessage("The plugin could not restore the rollback point's state").
		WithContext("plugin_name", name).
		WithContext("version", version).
		WithSeverity("error")
}

// Runtime error constructors

func NewRuntimeStateError(message string) *errors.Error {
	return errors.New(ErrCodeRuntimeState, "Runtime state error: "+message).
		WithUserMessage("The runtime is not in a state that allows this operation").
		WithSeverity("error")
}

func NewVersionParseError(version string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeVersionParse, "Version parse error").
		WithUserMessage("The version string is not valid semver").
		WithContext("version", version).
		WithSeverity("error")
}
