// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package vm

import (
	"os"
	"strings"

	"golang.org/x/sys/cpu"
)

// OptimizationLevel selects how many groups
// of lanes the interpreter processes per pass.
// It never changes results.
type OptimizationLevel uint32

const (
	// Process one group of LaneCount lanes per pass.
	OptimizationLevelNone OptimizationLevel = iota

	// Process eight groups per pass; selected on
	// CPUs with 256-bit or wider vector units.
	OptimizationLevelWide

	// Autodetect the level based on the environment
	// variable (VECVM_OPT_LEVEL) and the CPU features.
	OptimizationLevelDetect = OptimizationLevel(0xFFFFFFFF)
)

const (
	optimizationLevelEnvVar = "VECVM_OPT_LEVEL"
)

// Groups returns the number of lane groups
// processed per pass at level o.
func (o OptimizationLevel) Groups() int {
	if o == OptimizationLevelWide {
		return 8
	}
	return 1
}

func (o OptimizationLevel) String() string {
	switch o {
	case OptimizationLevelNone:
		return "none"
	case OptimizationLevelWide:
		return "wide"
	case OptimizationLevelDetect:
		return "detect"
	}
	return "unknown"
}

func optimizationLevelFromCPUFeatures() OptimizationLevel {
	if cpu.X86.HasAVX2 || cpu.X86.HasAVX512F || cpu.ARM64.HasASIMD {
		return OptimizationLevelWide
	}
	return OptimizationLevelNone
}

// DetectOptimizationLevel detects the optimization level to use based on
// both CPU and `VECVM_OPT_LEVEL` environment variable, which is useful
// to override the detection.
func DetectOptimizationLevel() OptimizationLevel {
	val, _ := os.LookupEnv(optimizationLevelEnvVar)
	detected := optimizationLevelFromCPUFeatures()

	switch strings.ToLower(val) {
	case "none", "disabled":
		return OptimizationLevelNone
	case "wide":
		return OptimizationLevelWide
	}
	return detected
}
