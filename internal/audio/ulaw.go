package audio

import "encoding/binary"

// TelephonySampleRate is the rate of G.711 media-stream audio.
const TelephonySampleRate = 8000

const (
	muLawBias = 0x84
	muLawClip = 32635

	// MuLawSilence is one byte of encoded silence.
	MuLawSilence byte = 0xFF
)

func encodeMuLaw(s int16) byte {
	v := int(s)
	var sign int
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func decodeMuLaw(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u) & 0x0F
	v := ((mantissa << 3) + muLawBias) << exponent
	v -= muLawBias
	if u&0x80 != 0 {
		return int16(-v)
	}
	return int16(v)
}

// EncodeMuLaw converts PCM16LE samples to G.711 mu-law bytes.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = encodeMuLaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// DecodeMuLaw converts G.711 mu-law bytes to PCM16LE samples.
func DecodeMuLaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(decodeMuLaw(u)))
	}
	return out
}

// Resample converts mono PCM16LE between sample rates with linear interpolation.
func Resample(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to || len(pcm) < 2 {
		return append([]byte(nil), pcm...)
	}
	in := len(pcm) / 2
	n := int(int64(in) * int64(to) / int64(from))
	out := make([]byte, n*2)
	sample := func(i int) float64 {
		if i >= in {
			i = in - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	ratio := float64(from) / float64(to)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Silence returns ms milliseconds of mu-law silence at the telephony rate.
func Silence(ms int) []byte {
	if ms <= 0 {
		return nil
	}
	out := make([]byte, ms*TelephonySampleRate/1000)
	for i := range out {
		out[i] = MuLawSilence
	}
	return out
}
