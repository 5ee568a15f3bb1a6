//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

const shaderDir = "assets/shaders"

var shaderStages = []string{".vert", ".frag", ".comp"}

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders to SPIR-V next to it.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/testbed", "."), withStream())
	return err
}

func buildShaders() error {
	for _, ext := range shaderStages {
		sources, err := filepath.Glob(filepath.Join(shaderDir, "*"+ext))
		if err != nil {
			return err
		}
		for _, src := range sources {
			out := src + ".spv"
			if upToDate(src, out) {
				continue
			}
			if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", out), withStream()); err != nil {
				return fmt.Errorf("compiling %s: %w", src, err)
			}
		}
	}
	return nil
}

func upToDate(src, out string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	oi, err := os.Stat(out)
	if err != nil {
		return false
	}
	return !oi.ModTime().Before(si.ModTime())
}
