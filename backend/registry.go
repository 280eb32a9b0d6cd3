package backend

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as
// input a configuration string that is passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if constructor == nil {
		exceptions.Panicf("backend.Register(%q): nil constructor", name)
	}
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// MIGX_BACKEND is the environment variable with the default backend
// configuration to use, in the format "<backend_name>:<backend_configuration>".
const MIGX_BACKEND = "MIGX_BACKEND"

// DefaultConfig is the backend configuration to use if MIGX_BACKEND is unset.
var DefaultConfig string

// New returns a new Backend using the default configuration: the MIGX_BACKEND
// environment variable if defined, next DefaultConfig if set, and otherwise
// the first registered backend with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	if config, found := os.LookupEnv(MIGX_BACKEND); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>". The "<backend_name>" is the name
// of a registered backend (e.g.: "goref") and "<backend_configuration>" is
// backend specific.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for migx -- maybe import the reference one with import _ "github.com/gomlx/migx/backend/goref"?`)
	}
	backendName := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
