package utils

func bitMask(bitLen int) uint64 {
	if bitLen >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bitLen)) - 1
}

func getBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	return (payload >> uint(startBit)) & bitMask(bitLen)
}

func setBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return payload
	}
	mask := bitMask(bitLen)
	payload &^= mask << uint(startBit)
	return payload | (value&mask)<<uint(startBit)
}

// signExtend interprets the low bitLen bits of u as two's complement when signed.
func signExtend(u uint64, bitLen int, signed bool) int64 {
	if !signed || bitLen <= 0 || bitLen >= 64 {
		return int64(u)
	}
	shift := uint(64 - bitLen)
	return int64(u<<shift) >> shift
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rawRange is the representable raw interval for a field of bitLen bits.
func rawRange(bitLen int, signed bool) (int64, int64) {
	if bitLen <= 0 || bitLen > 63 {
		bitLen = 63
	}
	if !signed {
		return 0, int64(bitMask(bitLen))
	}
	half := int64(1) << uint(bitLen-1)
	return -half, half - 1
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	lo, hi := rawRange(bitLen, signed)
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}
