// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package meshflags registers command-line flags for stage
// properties. Applications expose each stage's property table as
// advanced flags named stage.property, alongside their own basic
// flags.
package meshflags

import (
	"flag"
	"fmt"

	"github.com/grailbio/bigmesh"
)

// propValue adapts one property to the flag.Value interface;
// setting the flag sets the property.
type propValue struct {
	props *bigmesh.Properties
	name  string
}

func (v propValue) String() string {
	if v.props == nil {
		return ""
	}
	return fmt.Sprint(v.props.Specs()[v.index()].Default)
}

func (v propValue) index() int {
	for i, s := range v.props.Specs() {
		if s.Name == v.name {
			return i
		}
	}
	return 0
}

func (v propValue) Set(s string) error {
	return v.props.SetFromString(v.name, s)
}

// Register adds one flag per property of each algorithm to the flag
// set, named <stage>.<property>.
func Register(fs *flag.FlagSet, algs ...bigmesh.Algorithm) {
	for _, alg := range algs {
		props := alg.Properties()
		for _, spec := range props.Specs() {
			fs.Var(propValue{props: props, name: spec.Name},
				alg.Name()+"."+spec.Name, spec.Help)
		}
	}
}
