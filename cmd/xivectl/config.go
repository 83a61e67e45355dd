package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/daxtens/xivevm/xive"
)

// SourceConfig, EQConfig and VPConfig mirror the JSON device-info
// loading novm uses for its machine devices: a friendly data struct
// that gets decoded straight from a config file and then turned into
// the package's own register-level types.
type SourceConfig struct {
	NrIRQs   uint32   `json:"nr_irqs"`
	ESBShift uint     `json:"esb_shift"`
	StoreEOI bool     `json:"store_eoi"`
	LSI      []uint32 `json:"lsi"`
}

type IVEConfig struct {
	LISN    uint32 `json:"lisn"`
	EQBlock uint8  `json:"eq_block"`
	EQIndex uint32 `json:"eq_index"`
	EQData  uint32 `json:"eq_data"`
	Masked  bool   `json:"masked"`
}

type EQConfig struct {
	Index        uint32 `json:"index"`
	QSize        uint8  `json:"qsize"`
	QAddr        uint64 `json:"qaddr"`
	Enqueue      bool   `json:"enqueue"`
	UncondNotify bool   `json:"uncond_notify"`
	NVTBlock     uint8  `json:"nvt_block"`
	NVTIndex     uint32 `json:"nvt_index"`
	Priority     uint8  `json:"priority"`
}

type VPConfig struct {
	Index uint32 `json:"index"`
}

// MMIOBasesConfig gives the guest physical addresses xivectl maps its
// device regions at, so its mmio command can exercise the same
// address-routed path a real machine model would use instead of
// calling HandleESB/HandleEQSource/HandleTIMA directly.
type MMIOBasesConfig struct {
	ESBBase      uint64 `json:"esb_base"`
	EQSourceBase uint64 `json:"eq_source_base"`
	TIMABase     uint64 `json:"tima_base"`
}

// DeckConfig is the top-level document xivectl loads: enough to bring
// up a Controller and preload its IVE/EQ/VP tables for a demo run.
type DeckConfig struct {
	BlockID uint8           `json:"block_id"`
	NrCPUs  int             `json:"nr_cpus"`
	MMIO    MMIOBasesConfig `json:"mmio"`
	Source  SourceConfig    `json:"source"`
	IVEs    []IVEConfig     `json:"ives"`
	EQs     []EQConfig      `json:"eqs"`
	VPs     []VPConfig      `json:"vps"`
}

// LoadDeckConfig reads and decodes a DeckConfig from path, the way
// novm's DeviceInfo.Load decodes per-device JSON payloads.
func LoadDeckConfig(path string) (*DeckConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg DeckConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply preloads a freshly constructed Controller's IVE/EQ/VP tables
// from the config, the way a machine's reset path would program them
// from firmware-provided tables.
func (cfg *DeckConfig) Apply(c *xive.Controller) {
	for _, iv := range cfg.IVEs {
		ive := xive.NewIVE(iv.EQBlock, iv.EQIndex, iv.EQData).WithMasked(iv.Masked)
		c.ConfigureIVE(iv.LISN, ive)
	}
	for _, eqc := range cfg.EQs {
		eq := &xive.EQ{}
		xive.ResetEQDefaults(eq)
		eq.W0 = eqW0(eqc)
		eq.SetQAddr(eqc.QAddr)
		eq.W6 = eqW6(eqc)
		eq.W7 = uint32(eqc.Priority) << 24
		c.ConfigureEQ(eqc.Index, eq)
	}
	for _, vpc := range cfg.VPs {
		vp := &xive.VP{}
		vp.SetValid(true)
		c.ConfigureVP(vpc.Index, vp)
	}
}

func eqW0(eqc EQConfig) uint32 {
	w0 := uint32(1) << 31 // VALID
	if eqc.Enqueue {
		w0 |= uint32(1) << 30
	}
	if eqc.UncondNotify {
		w0 |= uint32(1) << 29
	}
	w0 |= uint32(eqc.QSize&0x7) << 12
	return w0
}

func eqW6(eqc EQConfig) uint32 {
	return uint32(eqc.NVTBlock&0xF)<<27 | (eqc.NVTIndex & 0x7FFFFFF)
}
