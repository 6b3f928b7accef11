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

package main

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/SnellerInc/vecvm/config"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/sim"
)

func TestRoleOf(t *testing.T) {
	want := map[string]sim.Role{
		"gravity":    sim.Update,
		"kill":       sim.Update,
		"orbit":      sim.Update,
		"bands":      sim.Update,
		"turbulence": sim.Update,
		"fountain":   sim.Spawn,
		"burst":      sim.Event,
	}
	for name, fn := range scripts.Named {
		if got := roleOf(fn()); got != want[name] {
			t.Errorf("%s: role %s, want %s", name, got, want[name])
		}
	}
}

func TestWorld(t *testing.T) {
	cfg := config.Default()
	cfg.Emitters[0].Instances = 2
	var logbuf bytes.Buffer
	r, err := newRun(cfg, log.New(&logbuf, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	w, err := r.world()
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Instances) != 2 || w.Instances[0].Seed == w.Instances[1].Seed {
		t.Fatalf("instances %d", len(w.Instances))
	}
	for i := 0; i < 3; i++ {
		if err := w.Tick(context.Background(), cfg.DeltaTime); err != nil {
			t.Fatal(err)
		}
	}
	if w.Len() != 2*3*cfg.Emitters[0].SpawnCount {
		t.Fatalf("%d particles", w.Len())
	}
	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	if err := dump(bw, w.Instances[0], 4); err != nil {
		t.Fatal(err)
	}
	summarize(bw, w)
	bw.Flush()
	text := out.String()
	for _, s := range []string{"pos", "state", "after 3 ticks"} {
		if !strings.Contains(text, s) {
			t.Errorf("output lacks %q:\n%s", s, text)
		}
	}
}
