package shaders

import (
	_ "embed"
	"strings"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gogpu/naga"
)

//go:embed generate.wgsl
var GenerateWGSL string

//go:embed depth_key.wgsl
var DepthKeyWGSL string

//go:embed bitonic.wgsl
var BitonicWGSL string

//go:embed grass.wgsl
var GrassWGSL string

// Validate compiles source through naga and returns its diagnostic on
// failure.
func Validate(source string) error {
	_, err := naga.Compile(source)
	return err
}

// Unsupported reports whether err is naga refusing a construct it does not
// implement yet, rather than a fault in the source.
func Unsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"not yet implemented", "not supported", "lowering error", "atomic"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Validator adapts Validate for device.WithValidator. Sources naga cannot
// handle yet are passed through to the driver compiler.
func Validator(logger core.Logger) func(label, source string) error {
	if logger == nil {
		logger = core.NopLogger()
	}
	return func(label, source string) error {
		err := Validate(source)
		if Unsupported(err) {
			logger.Debugf("shader %s: naga skipped validation: %v", label, err)
			return nil
		}
		return err
	}
}
