// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// symtrain_checkpoints inspects a checkpoint saved by train.Trainer.SaveCheckpoint: the model file
// and its learners' state file (with the ".ckp" suffix).
//
// Usage:
//
//	symtrain_checkpoints -summary -vars -learners <model_path>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/gomlx/symtrain/pkg/ml/train"
	"github.com/gomlx/symtrain/pkg/support/fsutil"
	"github.com/gomlx/symtrain/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary  = flag.Bool("summary", false, "Display a summary of the model and learners sizes.")
	flagVars     = flag.Bool("vars", false, "Lists the variables of the model, filtered by -kinds.")
	flagLearners = flag.Bool("learners", false, "Lists the state of each learner.")
	flagKinds    = xslices.Flag(flag.CommandLine, "kinds",
		[]graph.Kind{graph.KindParameter, graph.KindConstant, graph.KindPlaceholder},
		"Comma-separated kinds of variables listed by -vars.", graph.KindString)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint model path to read from. See 'symtrain_checkpoints -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'symtrain_checkpoints -help'.")
		os.Exit(1)
	}
	if !*flagSummary && !*flagVars && !*flagLearners {
		*flagSummary = true
	}
	report(must.M1(fsutil.ReplaceTildeInDir(args[0])))
}

func report(path string) {
	model := must.M1(loadModel(path))
	var states []learners.StateSummary
	if *flagSummary || *flagLearners {
		states = must.M1(describeLearners(path))
	}

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false)
		for _, row := range summaryRows(path, model, states) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}

	if *flagVars {
		fmt.Println(titleStyle.Render("Variables"))
		table := newPlainTable(true)
		table.Row(variablesHeader...)
		for _, row := range variableRows(model, *flagKinds) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}

	if *flagLearners {
		fmt.Println(titleStyle.Render(fmt.Sprintf("Learners (%s)", train.CheckpointStatePath(path))))
		table := newPlainTable(true)
		table.Row(learnersHeader...)
		for _, row := range learnerRows(states) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}
}
