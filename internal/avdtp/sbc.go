package avdtp

import "fmt"

// SamplingFrequency is a bitmask over SBC's four supported sampling
// frequencies (A2DP section 4.3.2.1).
type SamplingFrequency uint8

const (
	Freq16000 SamplingFrequency = 1 << 3
	Freq32000 SamplingFrequency = 1 << 2
	Freq44100 SamplingFrequency = 1 << 1
	Freq48000 SamplingFrequency = 1 << 0

	allSamplingFrequencies = Freq16000 | Freq32000 | Freq44100 | Freq48000
)

// ChannelMode is a bitmask over SBC's four channel modes (A2DP section 4.3.2.2).
type ChannelMode uint8

const (
	ChannelModeMono         ChannelMode = 1 << 3
	ChannelModeDualChannel  ChannelMode = 1 << 2
	ChannelModeStereo       ChannelMode = 1 << 1
	ChannelModeJointStereo  ChannelMode = 1 << 0

	allChannelModes = ChannelModeMono | ChannelModeDualChannel | ChannelModeStereo | ChannelModeJointStereo
)

// BlockLength is a bitmask over SBC's four block lengths (A2DP section 4.3.2.3).
type BlockLength uint8

const (
	BlockLengthFour     BlockLength = 1 << 3
	BlockLengthEight    BlockLength = 1 << 2
	BlockLengthTwelve   BlockLength = 1 << 1
	BlockLengthSixteen  BlockLength = 1 << 0

	allBlockLengths = BlockLengthFour | BlockLengthEight | BlockLengthTwelve | BlockLengthSixteen
)

// Subbands is a bitmask over SBC's two subband counts (A2DP section 4.3.2.4).
type Subbands uint8

const (
	SubbandsFour  Subbands = 1 << 1
	SubbandsEight Subbands = 1 << 0

	allSubbands = SubbandsFour | SubbandsEight
)

// AllocationMethod is a bitmask over SBC's two allocation methods
// (A2DP section 4.3.2.5).
type AllocationMethod uint8

const (
	AllocationSNR      AllocationMethod = 1 << 1
	AllocationLoudness AllocationMethod = 1 << 0

	allAllocationMethods = AllocationSNR | AllocationLoudness
)

// SBCCodecInformation is the 4-byte SBC Media Codec Specific Information
// Elements block (A2DP section 4.3.2).
type SBCCodecInformation struct {
	SamplingFrequencies SamplingFrequency
	ChannelModes        ChannelMode
	BlockLengths        BlockLength
	Subbands            Subbands
	AllocationMethods   AllocationMethod
	MinBitpool          uint8
	MaxBitpool          uint8
}

// DefaultSBCCodecInformation advertises every SBC configuration option,
// the capability set a sink offers before negotiation.
func DefaultSBCCodecInformation() SBCCodecInformation {
	return SBCCodecInformation{
		SamplingFrequencies: allSamplingFrequencies,
		ChannelModes:        allChannelModes,
		BlockLengths:        allBlockLengths,
		Subbands:            allSubbands,
		AllocationMethods:   allAllocationMethods,
		MinBitpool:          2,
		MaxBitpool:          53,
	}
}

func (s SBCCodecInformation) marshal() []byte {
	return []byte{
		uint8(s.SamplingFrequencies)<<4 | uint8(s.ChannelModes),
		uint8(s.BlockLengths)<<4 | uint8(s.Subbands)<<2 | uint8(s.AllocationMethods),
		s.MinBitpool,
		s.MaxBitpool,
	}
}

func parseSBCCodecInformation(b []byte) (*SBCCodecInformation, error) {
	if len(b) != 4 {
		return nil, fmt.Errorf("avdtp: sbc codec information must be 4 bytes, got %d", len(b))
	}
	return &SBCCodecInformation{
		SamplingFrequencies: SamplingFrequency(b[0] >> 4),
		ChannelModes:        ChannelMode(b[0] & 0x0F),
		BlockLengths:        BlockLength(b[1] >> 4),
		Subbands:            Subbands((b[1] >> 2) & 0x03),
		AllocationMethods:   AllocationMethod(b[1] & 0x03),
		MinBitpool:          b[2],
		MaxBitpool:          b[3],
	}, nil
}
