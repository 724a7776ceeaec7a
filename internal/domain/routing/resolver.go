// Package routing maps a (source, output mode, equalizer) triple to the ALSA
// device the source's plugin must write to.
package routing

import (
	"fmt"

	"github.com/miloaudio/milo/internal/domain/source"
)

// Key identifies one routing table entry.
type Key struct {
	Source    source.Source
	Mode      source.OutputMode
	Equalizer bool
}

// Resolver holds the complete routing table. The table is written out
// explicitly rather than derived from the key: every combination is
// independently testable and a gap is caught when the resolver is built,
// not at switch time.
type Resolver struct {
	table map[Key]string
}

// defaultTable covers all 16 combinations (4 sources x 2 modes x 2 eq flags).
// Device names match the ALSA aliases provisioned by the installer.
var defaultTable = map[Key]string{
	{source.Spotify, source.ModeDirect, false}:    "spotify_direct",
	{source.Spotify, source.ModeDirect, true}:     "spotify_direct_eq",
	{source.Spotify, source.ModeMultiroom, false}: "spotify_multiroom",
	{source.Spotify, source.ModeMultiroom, true}:  "spotify_multiroom_eq",

	{source.Bluetooth, source.ModeDirect, false}:    "bluetooth_direct",
	{source.Bluetooth, source.ModeDirect, true}:     "bluetooth_direct_eq",
	{source.Bluetooth, source.ModeMultiroom, false}: "bluetooth_multiroom",
	{source.Bluetooth, source.ModeMultiroom, true}:  "bluetooth_multiroom_eq",

	{source.MacReceiver, source.ModeDirect, false}:    "mac_receiver_direct",
	{source.MacReceiver, source.ModeDirect, true}:     "mac_receiver_direct_eq",
	{source.MacReceiver, source.ModeMultiroom, false}: "mac_receiver_multiroom",
	{source.MacReceiver, source.ModeMultiroom, true}:  "mac_receiver_multiroom_eq",

	{source.Radio, source.ModeDirect, false}:    "radio_direct",
	{source.Radio, source.ModeDirect, true}:     "radio_direct_eq",
	{source.Radio, source.ModeMultiroom, false}: "radio_multiroom",
	{source.Radio, source.ModeMultiroom, true}:  "radio_multiroom_eq",
}

// NewResolver builds a resolver over the default table, verifying that every
// combination is mapped to a non-empty device. A gap is a programming error
// in this file and aborts construction.
func NewResolver() (*Resolver, error) {
	return newResolver(defaultTable)
}

func newResolver(table map[Key]string) (*Resolver, error) {
	for _, src := range source.All {
		for _, mode := range []source.OutputMode{source.ModeDirect, source.ModeMultiroom} {
			for _, eq := range []bool{false, true} {
				key := Key{src, mode, eq}
				device, ok := table[key]
				if !ok {
					return nil, fmt.Errorf("routing table is missing %s/%s/eq=%v", src, mode, eq)
				}
				if device == "" {
					return nil, fmt.Errorf("routing table maps %s/%s/eq=%v to an empty device", src, mode, eq)
				}
			}
		}
	}
	return &Resolver{table: table}, nil
}

// Resolve returns the output device for the triple. It is pure and total over
// the real sources; asking for source.None is a programmer error.
func (r *Resolver) Resolve(src source.Source, mode source.OutputMode, eq bool) (string, error) {
	device, ok := r.table[Key{src, mode, eq}]
	if !ok {
		return "", fmt.Errorf("no routing target for %s/%s/eq=%v", src, mode, eq)
	}
	return device, nil
}
