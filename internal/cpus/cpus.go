// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cpus decodes processor identification signatures and maps
// family, model, and stepping to microarchitecture names and to the core
// crystal clock frequencies of parts that do not report one.
package cpus

import (
	"fmt"
	"regexp"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
)

const IntelVendor = "GenuineIntel"
const AMDVendor = "AuthenticAMD"

// Intel family 6 model numbers that need the crystal clock table
const (
	ModelSkylake    uint8 = 0x4E
	ModelSkylakeDT  uint8 = 0x5E
	ModelKabylake   uint8 = 0x8E
	ModelKabylakeDT uint8 = 0x9E
	ModelDenverton  uint8 = 0x5F
	ModelGoldmont   uint8 = 0x5C
)

// Crystal clock tiers
const (
	TierClient = "client"
	TierServer = "server"
	TierAtom   = "atom"
)

const (
	ClientCrystalHz uint64 = 24000000
	ServerCrystalHz uint64 = 25000000
	AtomCrystalHz   uint64 = 19200000
	// DefaultCrystalHz is assumed when nothing else identifies the crystal,
	// it is the most common value among Intel parts to date.
	DefaultCrystalHz = ClientCrystalHz
)

// Microarchitecture constants
const (
	UarchUnknown = "unknown"
	// Intel Core CPUs
	UarchHSW = "HSW"
	UarchBDW = "BDW"
	UarchSKL = "SKL"
	UarchKBL = "KBL"
	UarchCFL = "CFL"
	UarchCML = "CML"
	UarchRKL = "RKL"
	UarchTGL = "TGL"
	UarchADL = "ADL"
	UarchMTL = "MTL"
	UarchARL = "ARL"
	// Intel Atom CPUs
	UarchGLM = "GLM" // Goldmont (Apollo Lake)
	UarchDNV = "DNV" // Denverton
	// Intel Xeon CPUs
	UarchHSX = "HSX"
	UarchBDX = "BDX"
	UarchSKX = "SKX"
	UarchCLX = "CLX"
	UarchCPX = "CPX"
	UarchICX = "ICX"
	UarchSPR = "SPR"
	UarchEMR = "EMR"
	UarchSRF = "SRF"
	UarchGNR = "GNR"
	UarchCWF = "CWF"
	// AMD CPUs
	UarchNaples     = "Naples"
	UarchRome       = "Rome"
	UarchMilan      = "Milan"
	UarchVermeer    = "Vermeer"
	UarchGenoa      = "Genoa"
	UarchBergamo    = "Bergamo"
	UarchTurinZen5  = "Turin (Zen 5)"
	UarchTurinZen5c = "Turin (Zen 5c)"
)

// Signature is the processor version information, CPUID leaf 1 EAX.
type Signature uint32

func (s Signature) Stepping() uint8       { return uint8(s & 0xF) }      // #nosec G115
func (s Signature) BaseModel() uint8      { return uint8(s>>4) & 0xF }   // #nosec G115
func (s Signature) BaseFamily() uint8     { return uint8(s>>8) & 0xF }   // #nosec G115
func (s Signature) ExtendedModel() uint8  { return uint8(s>>16) & 0xF }  // #nosec G115
func (s Signature) ExtendedFamily() uint8 { return uint8(s>>20) & 0xFF } // #nosec G115

// Model combines the base and extended model fields. The crystal clock
// table is keyed by this value.
func (s Signature) Model() uint8 {
	return s.BaseModel() | s.ExtendedModel()<<4
}

// Family returns the display family.
func (s Signature) Family() int {
	family := int(s.BaseFamily())
	if family == 0xF {
		family += int(s.ExtendedFamily())
	}
	return family
}

// DisplayModel returns the model as software reports it, with the extended
// model applied only to families 6 and 15.
func (s Signature) DisplayModel() int {
	if s.BaseFamily() == 0x6 || s.BaseFamily() == 0xF {
		return int(s.Model())
	}
	return int(s.BaseModel())
}

func (s Signature) String() string {
	return fmt.Sprintf("%02X_%02XH_%d", s.Family(), s.DisplayModel(), s.Stepping())
}

// CrystalClock is a core crystal clock frequency and the tier it belongs to.
type CrystalClock struct {
	Tier string
	Hz   uint64
}

// crystalClockTiers lists the models whose leaf 0x15 leaves the crystal
// frequency blank. A model appears in at most one tier.
var crystalClockTiers = []struct {
	Clock  CrystalClock
	Models mapset.Set[uint8]
}{
	{CrystalClock{Tier: TierClient, Hz: ClientCrystalHz}, mapset.NewSet(ModelSkylake, ModelSkylakeDT, ModelKabylake, ModelKabylakeDT)},
	{CrystalClock{Tier: TierServer, Hz: ServerCrystalHz}, mapset.NewSet(ModelDenverton)},
	{CrystalClock{Tier: TierAtom, Hz: AtomCrystalHz}, mapset.NewSet(ModelGoldmont)},
}

// CrystalClockForModel returns the known crystal clock for a model.
func CrystalClockForModel(model uint8) (CrystalClock, bool) {
	for _, tier := range crystalClockTiers {
		if tier.Models.Contains(model) {
			return tier.Clock, true
		}
	}
	return CrystalClock{}, false
}

// CrystalClockModels returns every model in the crystal clock table.
func CrystalClockModels() map[uint8]CrystalClock {
	models := make(map[uint8]CrystalClock)
	for _, tier := range crystalClockTiers {
		for _, model := range tier.Models.ToSlice() {
			models[model] = tier.Clock
		}
	}
	return models
}

type CPUIdentifierX86 struct {
	Family   string
	Model    string // regex match
	Stepping string // empty field means 'any' stepping, otherwise regex match
}

// cpuIdentifiersX86 maps x86 CPU identification to microarchitecture names
var cpuIdentifiersX86 = []struct {
	Identifier        CPUIdentifierX86
	MicroArchitecture string
}{
	// Intel Core CPUs
	{CPUIdentifierX86{Family: "6", Model: "(60|69|70)"}, UarchHSW},                           // Haswell
	{CPUIdentifierX86{Family: "6", Model: "(61|71)"}, UarchBDW},                              // Broadwell
	{CPUIdentifierX86{Family: "6", Model: "(78|94)"}, UarchSKL},                              // Skylake
	{CPUIdentifierX86{Family: "6", Model: "(142|158)", Stepping: "9"}, UarchKBL},             // Kabylake
	{CPUIdentifierX86{Family: "6", Model: "(142|158)", Stepping: "(10|11|12|13)"}, UarchCFL}, // Coffeelake
	{CPUIdentifierX86{Family: "6", Model: "(165|166)"}, UarchCML},                            // Comet Lake
	{CPUIdentifierX86{Family: "6", Model: "167"}, UarchRKL},                                  // Rocket Lake
	{CPUIdentifierX86{Family: "6", Model: "(140|141)"}, UarchTGL},                            // Tiger Lake
	{CPUIdentifierX86{Family: "6", Model: "(151|154)"}, UarchADL},                            // Alder Lake
	{CPUIdentifierX86{Family: "6", Model: "170"}, UarchMTL},                                  // Meteor Lake
	{CPUIdentifierX86{Family: "6", Model: "197"}, UarchARL},                                  // Arrow Lake
	// Intel Atom CPUs
	{CPUIdentifierX86{Family: "6", Model: "92"}, UarchGLM}, // Goldmont
	{CPUIdentifierX86{Family: "6", Model: "95"}, UarchDNV}, // Denverton
	// Intel Xeon CPUs
	{CPUIdentifierX86{Family: "6", Model: "63"}, UarchHSX},                          // Haswell
	{CPUIdentifierX86{Family: "6", Model: "(79|86)"}, UarchBDX},                     // Broadwell
	{CPUIdentifierX86{Family: "6", Model: "85", Stepping: "(0|1|2|3|4)"}, UarchSKX}, // Skylake
	{CPUIdentifierX86{Family: "6", Model: "85", Stepping: "(5|6|7)"}, UarchCLX},     // Cascadelake
	{CPUIdentifierX86{Family: "6", Model: "85", Stepping: "11"}, UarchCPX},          // Cooperlake
	{CPUIdentifierX86{Family: "6", Model: "(106|108)"}, UarchICX},                   // Icelake
	{CPUIdentifierX86{Family: "6", Model: "143"}, UarchSPR},                         // Sapphire Rapids
	{CPUIdentifierX86{Family: "6", Model: "207"}, UarchEMR},                         // Emerald Rapids
	{CPUIdentifierX86{Family: "6", Model: "175"}, UarchSRF},                         // Sierra Forest
	{CPUIdentifierX86{Family: "6", Model: "173"}, UarchGNR},                         // Granite Rapids
	{CPUIdentifierX86{Family: "6", Model: "221"}, UarchCWF},                         // Clearwater Forest
	// AMD CPUs
	{CPUIdentifierX86{Family: "23", Model: "1"}, UarchNaples},                    // Naples
	{CPUIdentifierX86{Family: "23", Model: "49"}, UarchRome},                     // Rome
	{CPUIdentifierX86{Family: "25", Model: "1"}, UarchMilan},                     // Milan
	{CPUIdentifierX86{Family: "25", Model: "33"}, UarchVermeer},                  // Vermeer
	{CPUIdentifierX86{Family: "25", Model: "(1[6-9]|2[0-9]|3[01])"}, UarchGenoa}, // Genoa, model 16-31
	{CPUIdentifierX86{Family: "25", Model: "(16[0-9]|17[0-5])"}, UarchBergamo},   // Bergamo, model 160-175
	{CPUIdentifierX86{Family: "26", Model: "2"}, UarchTurinZen5},                 // Turin (Zen 5)
	{CPUIdentifierX86{Family: "26", Model: "17"}, UarchTurinZen5c},               // Turin (Zen 5c)
}

// GetMicroArchitecture returns the microarchitecture name for a signature.
func GetMicroArchitecture(signature Signature) (uarch string, err error) {
	family := strconv.Itoa(signature.Family())
	model := strconv.Itoa(signature.DisplayModel())
	stepping := strconv.Itoa(int(signature.Stepping()))
	for _, entry := range cpuIdentifiersX86 {
		id := entry.Identifier
		if id.Family != family {
			continue
		}
		var reModel *regexp.Regexp
		reModel, err = regexp.Compile("^" + id.Model + "$")
		if err != nil {
			return
		}
		if !reModel.MatchString(model) {
			continue
		}
		if id.Stepping != "" {
			var reStepping *regexp.Regexp
			reStepping, err = regexp.Compile("^" + id.Stepping + "$")
			if err != nil {
				return
			}
			if !reStepping.MatchString(stepping) {
				continue
			}
		}
		uarch = entry.MicroArchitecture
		return
	}
	uarch = UarchUnknown
	err = fmt.Errorf("CPU match not found for family %s, model %s, stepping %s", family, model, stepping)
	return
}
