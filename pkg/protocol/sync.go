package protocol

// DMR Voice Sync patterns and embedded signalling.
// Sync patterns based on DMRDefines.h and Sync.cpp from MMDVMHost
// (https://github.com/g4klx/MMDVMHost).

// Voice sync patterns - 7 bytes inserted at bytes 13-19 with masking.
// MS (Mobile Station) sourced patterns - used for repeater mode.
// BS (Base Station) sourced patterns - used for network/master mode.
var (
	// MS_SOURCED_AUDIO_SYNC is the voice sync pattern for MS mode (repeater to network)
	MS_SOURCED_AUDIO_SYNC = []byte{0x07, 0xF7, 0xD5, 0xDD, 0x57, 0xDF, 0xD0}

	// BS_SOURCED_AUDIO_SYNC is the voice sync pattern for BS mode (network to repeater)
	BS_SOURCED_AUDIO_SYNC = []byte{0x07, 0x55, 0xFD, 0x7D, 0xF7, 0x5F, 0x70}

	// MS_SOURCED_DATA_SYNC is the data sync pattern
	MS_SOURCED_DATA_SYNC = []byte{0x0D, 0x5D, 0x7F, 0x77, 0xFD, 0x75, 0x70}

	// SYNC_MASK protects the outer nibbles of bytes 13 and 19
	SYNC_MASK = []byte{0x0F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xF0}
)

// InsertVoiceSync inserts the voice sync pattern into a DMR voice frame.
// The sync pattern occupies bytes 13-19 (7 bytes) with nibble masking,
// matching MMDVMHost's Sync::addDMRAudioSync.
func InsertVoiceSync(frame []byte, timeslot int) {
	if len(frame) < 20 {
		return
	}

	// The same MS-sourced pattern is used regardless of timeslot.
	syncPattern := MS_SOURCED_AUDIO_SYNC

	for i := 0; i < 7; i++ {
		frame[i+13] = (frame[i+13] & ^SYNC_MASK[i]) | syncPattern[i]
	}
}

// InsertEmbeddedLC writes one embedded-LC burst (B, C, D or E, selected by
// voiceBurst ∈ {VoiceBurstB..VoiceBurstE}) into bits 116..147 of a voice
// frame. Unlike the sync field at bytes 13-19, embedded LC never touches
// the sync bytes — it lives in its own bit range within the burst.
func InsertEmbeddedLC(frame []byte, srcID, dstID uint32, flco FLCO, voiceBurst int) {
	if len(frame) < 33 {
		return
	}
	b, c, d, e := BuildEmbeddedLCBursts(srcID, dstID, flco)
	switch voiceBurst {
	case VoiceBurstB:
		InsertEmbeddedLCBurst(frame, b)
	case VoiceBurstC:
		InsertEmbeddedLCBurst(frame, c)
	case VoiceBurstD:
		InsertEmbeddedLCBurst(frame, d)
	case VoiceBurstE:
		InsertEmbeddedLCBurst(frame, e)
	}
}

// DecodeEmbeddedLC fast-decodes an LC from the four embedded-LC bursts
// gathered from consecutive voice frames B, C, D, E.
func DecodeEmbeddedLC(b, c, d, e []byte) (srcID, dstID uint32, flco FLCO, ok bool) {
	if len(b) < 33 || len(c) < 33 || len(d) < 33 || len(e) < 33 {
		return 0, 0, 0, false
	}
	burstB := ExtractEmbeddedLCBurst(b)
	burstC := ExtractEmbeddedLCBurst(c)
	burstD := ExtractEmbeddedLCBurst(d)
	burstE := ExtractEmbeddedLCBurst(e)
	srcID, dstID, flco = ParseEmbeddedLCBursts(burstB, burstC, burstD, burstE)
	return srcID, dstID, flco, true
}
