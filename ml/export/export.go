// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package export

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/cairnml/cairn/graph"
)

// Entry names one weight of the graph and the representation to export
// it in.
type Entry struct {
	ID     string
	Target QuantTarget
}

// Layout is the export order: entries are written back to back, exactly
// as inference engines expect to mmap them.
type Layout []Entry

// Export pulls each weight in the layout off the device, quantises it
// and streams the bytes to w.
func Export(g *graph.Graph, layout Layout, w io.Writer) error {
	var total uint64
	for _, entry := range layout {
		t, err := g.Weights(entry.ID)
		if err != nil {
			return errors.WithMessage(err, "export layout")
		}
		values, err := t.Values().Read()
		if err != nil {
			return errors.WithMessagef(err, "reading weights %q", entry.ID)
		}
		encoded, err := entry.Target.Quantise(nil, values)
		if err != nil {
			return errors.WithMessagef(err, "quantising weights %q", entry.ID)
		}
		if _, err := w.Write(encoded); err != nil {
			return errors.Wrapf(err, "writing weights %q", entry.ID)
		}
		total += uint64(len(encoded))
	}
	klog.V(1).Infof("exported %d weight buffers, %s", len(layout), humanize.IBytes(total))
	return nil
}
