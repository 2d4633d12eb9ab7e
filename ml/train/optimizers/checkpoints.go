// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// Checkpoint layout: one file per auxiliary buffer kind (momentum.bin,
// velocity.bin, ...), holding for every weight name in sorted order a
// length-prefixed name, a uint32 element count and the raw float32
// little-endian values. A manifest.json records a fresh run id, the
// format version and the kinds present.
//
// The legacy layout (bullet-era checkpoints) has the same file names but
// no framing at all: the raw float32 buffers concatenated in sorted-name
// order. It can only be read back by a collection with the exact same
// names and sizes.

const checkpointVersion = 1

type manifest struct {
	RunID   string   `json:"run_id"`
	Version int      `json:"version"`
	Kinds   []string `json:"kinds"`
}

// sortedNames returns the state names in sorted order, the order both
// checkpoint layouts use on disk.
func sortedNames[P any](states map[string]State[P]) []string {
	names := maps.Keys(states)
	sort.Strings(names)
	return names
}

// kindsOf returns the auxiliary buffer kinds of the collection and checks
// every state agrees on them.
func kindsOf[P any](states map[string]State[P], names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, errors.New("optimiser collection is empty")
	}
	var kinds []string
	for _, aux := range states[names[0]].Aux() {
		kinds = append(kinds, aux.Kind)
	}
	for _, name := range names[1:] {
		aux := states[name].Aux()
		if len(aux) != len(kinds) {
			return nil, errors.Errorf("state %q has %d auxiliary buffers, want %d", name, len(aux), len(kinds))
		}
		for i, a := range aux {
			if a.Kind != kinds[i] {
				return nil, errors.Errorf("state %q buffer #%d is %q, want %q", name, i, a.Kind, kinds[i])
			}
		}
	}
	return kinds, nil
}

// SaveCheckpoint writes the whole named collection of optimiser states
// into dir, creating it if needed. Existing checkpoint files in dir are
// overwritten.
func SaveCheckpoint[P any](states map[string]State[P], dir string) error {
	names := sortedNames(states)
	kinds, err := kindsOf(states, names)
	if err != nil {
		return errors.WithMessage(err, "saving checkpoint")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory %q", dir)
	}

	var bytes uint64
	for k, kind := range kinds {
		path := filepath.Join(dir, kind+".bin")
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "creating %q", path)
		}
		w := bufio.NewWriter(f)
		for _, name := range names {
			values, err := states[name].Aux()[k].Values.Read()
			if err != nil {
				f.Close()
				return errors.WithMessagef(err, "reading %s of %q", kind, name)
			}
			if err := writeRecord(w, name, values); err != nil {
				f.Close()
				return errors.Wrapf(err, "writing %s of %q", kind, name)
			}
			bytes += uint64(4 * len(values))
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return errors.Wrapf(err, "flushing %q", path)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "closing %q", path)
		}
	}

	m := manifest{RunID: uuid.NewString(), Version: checkpointVersion, Kinds: kinds}
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint manifest")
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	klog.V(1).Infof("saved optimiser checkpoint: %d states, %d kinds, %s in %s",
		len(names), len(kinds), humanize.IBytes(bytes), dir)
	return nil
}

// LoadCheckpoint restores the collection from dir. Names and buffer sizes
// must match what was saved exactly: entries are paired by sorted name
// order and any divergence is an error, leaving already-loaded buffers as
// they are. With legacy set, the headerless bullet-era layout is read
// instead.
func LoadCheckpoint[P any](states map[string]State[P], dir string, legacy bool) error {
	names := sortedNames(states)
	kinds, err := kindsOf(states, names)
	if err != nil {
		return errors.WithMessage(err, "loading checkpoint")
	}
	for k, kind := range kinds {
		path := filepath.Join(dir, kind+".bin")
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "opening %q", path)
		}
		r := bufio.NewReader(f)
		for _, name := range names {
			dst := states[name].Aux()[k].Values
			values := make([]float32, dst.Size())
			if legacy {
				err = binary.Read(r, binary.LittleEndian, values)
				if err != nil {
					f.Close()
					return errors.Wrapf(err, "reading legacy %s of %q", kind, name)
				}
			} else {
				got, err := readRecord(r, values)
				if err != nil {
					f.Close()
					return errors.Wrapf(err, "reading %s of %q", kind, name)
				}
				if got != name {
					f.Close()
					return errors.Errorf("checkpoint %q names %q where the collection has %q", path, got, name)
				}
			}
			if err := dst.Load(values); err != nil {
				f.Close()
				return errors.WithMessagef(err, "loading %s of %q", kind, name)
			}
		}
		// Trailing data means the checkpoint holds states this
		// collection doesn't know about.
		if _, err := r.ReadByte(); err != io.EOF {
			f.Close()
			return errors.Errorf("checkpoint %q holds more data than the %d states expect", path, len(names))
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "closing %q", path)
		}
	}
	klog.V(1).Infof("restored optimiser checkpoint: %d states from %s", len(names), dir)
	return nil
}

func writeRecord(w io.Writer, name string, values []float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(values))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, values)
}

// readRecord reads one framed record, requiring the value count to match
// len(values) exactly.
func readRecord(r io.Reader, values []float32) (name string, err error) {
	var nameLen uint32
	if err = binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return "", err
	}
	raw := make([]byte, nameLen)
	if _, err = io.ReadFull(r, raw); err != nil {
		return "", err
	}
	name = string(raw)
	var count uint32
	if err = binary.Read(r, binary.LittleEndian, &count); err != nil {
		return name, err
	}
	if int(count) != len(values) {
		return name, errors.Errorf("record %q holds %d values, want %d", name, count, len(values))
	}
	return name, binary.Read(r, binary.LittleEndian, values)
}
