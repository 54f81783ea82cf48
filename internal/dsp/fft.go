package dsp

import "math"

// fft computes the in-place radix-2 Cooley-Tukey FFT of x.
// len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	// Butterflies.
	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(angle), math.Sin(angle))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			half := length / 2
			for k := range half {
				u := x[start+k]
				v := x[start+k+half] * w
				x[start+k] = u + v
				x[start+k+half] = u - v
				w *= wl
			}
		}
	}
}

// ifft computes the in-place inverse FFT of x using the conjugation identity,
// including the 1/N scale. len(x) must be a power of two.
func ifft(x []complex128) {
	n := len(x)
	for i := range x {
		x[i] = complex(real(x[i]), -imag(x[i]))
	}
	fft(x)
	scale := 1 / float64(n)
	for i := range x {
		x[i] = complex(real(x[i])*scale, -imag(x[i])*scale)
	}
}

// largestPow2 returns the largest power of two <= n, or 0 if n < 1.
func largestPow2(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
