// Package region names the anatomical regions statistics are reported for,
// the multi-label mask volumes that encode them, and the order rows are
// written in.
package region

import (
	"fmt"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

type Name string

const (
	WholeLung       Name = "whole_lung"
	Core            Name = "core"
	Peel            Name = "peel"
	LeftUpperLobe   Name = "left_upper_lobe"
	LeftLowerLobe   Name = "left_lower_lobe"
	RightUpperLobe  Name = "right_upper_lobe"
	RightMiddleLobe Name = "right_middle_lobe"
	RightLowerLobe  Name = "right_lower_lobe"
)

// SubLobes are the bronchopulmonary segments, in reporting order. LB7 is not
// segmented separately from LB8.
var SubLobes = []Name{
	"LB1_2", "LB3", // left upper lobe
	"LB4", "LB5", // lingula
	"LB6", "LB8", "LB9", "LB10", // left lower lobe
	"RB1", "RB2", "RB3", // right upper lobe
	"RB4", "RB5", // right middle lobe
	"RB6", "RB7", "RB8", "RB9", "RB10", // right lower lobe
}

// Source identifies a multi-label mask volume.
type Source string

const (
	// SourceLung is the whole-lung mask. Its left and right lung labels are
	// homogenized into one region with code 1.
	SourceLung     Source = "lung"
	SourceCorePeel Source = "core_peel"
	SourceLobes    Source = "lobes"
	SourceSubLobes Source = "sublobes"
)

// WholeLungCode is the label of the homogenized whole-lung mask.
const WholeLungCode = 1

// Def places a region in its source volume.
type Def struct {
	Name   Name
	Source Source
	Code   float64
}

// DefaultCodes is the label of each region in its source volume.
var DefaultCodes = map[Name]float64{
	WholeLung:       WholeLungCode,
	Core:            40,
	Peel:            50,
	LeftUpperLobe:   8,
	LeftLowerLobe:   16,
	RightUpperLobe:  32,
	RightMiddleLobe: 64,
	RightLowerLobe:  128,
}

var standardOrder = []struct {
	name   Name
	source Source
}{
	{WholeLung, SourceLung},
	{Core, SourceCorePeel},
	{Peel, SourceCorePeel},
	{LeftUpperLobe, SourceLobes},
	{LeftLowerLobe, SourceLobes},
	{RightUpperLobe, SourceLobes},
	{RightMiddleLobe, SourceLobes},
	{RightLowerLobe, SourceLobes},
}

// Standard returns the whole-lung, core, peel and five lobe regions in row
// order. codes overrides DefaultCodes for the names it holds. The whole-lung
// code cannot be overridden.
func Standard(codes map[Name]float64) []Def {
	out := make([]Def, 0, len(standardOrder))
	for _, r := range standardOrder {
		code := DefaultCodes[r.name]
		if c, ok := codes[r.name]; ok && r.name != WholeLung {
			code = c
		}
		out = append(out, Def{Name: r.name, Source: r.source, Code: code})
	}
	return out
}

// SubLobeDefs places every sub-lobe in the sub-lobe source. Each name takes
// its code from codes when present. With no codes at all, the labels found in
// the sub-lobe volume are assigned to SubLobes in ascending order, and there
// must be exactly one label per sub-lobe.
func SubLobeDefs(codes map[Name]float64, subLobeLabels *volume.Volume) ([]Def, error) {
	out := make([]Def, 0, len(SubLobes))

	if len(codes) == 0 {
		if subLobeLabels == nil {
			return nil, pfx.Err(fmt.Errorf("no sub-lobe codes configured and no sub-lobe mask to derive them from"))
		}
		found := volume.UniqueLabels(subLobeLabels)
		if len(found) != len(SubLobes) {
			return nil, pfx.Err(fmt.Errorf("sub-lobe mask has %d labels, expected %d", len(found), len(SubLobes)))
		}
		for i, name := range SubLobes {
			out = append(out, Def{Name: name, Source: SourceSubLobes, Code: found[i]})
		}
		return out, nil
	}

	for _, name := range SubLobes {
		code, ok := codes[name]
		if !ok {
			return nil, pfx.Err(fmt.Errorf("no code configured for sub-lobe %s", name))
		}
		out = append(out, Def{Name: name, Source: SourceSubLobes, Code: code})
	}
	return out, nil
}

// Names lists the region names of defs as strings, in order.
func Names(defs []Def) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = string(d.Name)
	}
	return out
}
