package cluster

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/strrl/replicant/internal/sampling"
)

var ErrEmptyProfile = errors.New("length profile has no probability mass")

// Bucket holds the statistics of clusters of one capped length. Delays are in
// seconds.
type Bucket struct {
	Length          int
	Count           int
	Probability     float64
	AvgMessageDelay float64
	AvgClusterDelay float64
}

type LengthProfile struct {
	MaxLen  int
	Buckets []Bucket
}

func (p *LengthProfile) Bucket(length int) (Bucket, bool) {
	if length < 1 || length > len(p.Buckets) {
		return Bucket{}, false
	}
	return p.Buckets[length-1], true
}

func (p *LengthProfile) Total() float64 {
	var sum float64
	for _, b := range p.Buckets {
		sum += b.Probability
	}
	return sum
}

// Sample draws a bucket weighted by probability.
func (p *LengthProfile) Sample(rng *rand.Rand) (Bucket, error) {
	b, err := sampling.Choose(rng, p.Buckets, func(b Bucket) float64 { return b.Probability })
	if errors.Is(err, sampling.ErrNoWeight) {
		return Bucket{}, ErrEmptyProfile
	}
	return b, err
}

// BuildProfile computes the length distribution and the per-bucket average
// intra- and inter-cluster delays.
func (c *Clusterer) BuildProfile(clusters []Cluster) *LengthProfile {
	maxLen := c.config.MaxClusterSize
	p := &LengthProfile{MaxLen: maxLen, Buckets: make([]Bucket, maxLen)}
	for i := range p.Buckets {
		p.Buckets[i].Length = i + 1
	}

	if len(clusters) == 0 {
		return p
	}

	var oversized int
	for _, cl := range clusters {
		if cl.Size() == 0 {
			continue
		}
		p.Buckets[cl.Length(maxLen)-1].Count++
		if cl.Size() > maxLen {
			oversized++
		}
	}

	total := float64(len(clusters))
	for i := range p.Buckets {
		p.Buckets[i].Probability = float64(p.Buckets[i].Count) / total
	}
	c.redistribute(p.Buckets, float64(oversized)/total)

	intra, intraGlobal := c.messageDelays(clusters)
	c.fillZeros(intra, intraGlobal)
	c.smooth(intra)

	inter, interGlobal := c.clusterDelays(clusters)
	c.fillZeros(inter, interGlobal)
	c.smooth(inter)

	for i := range p.Buckets {
		p.Buckets[i].AvgMessageDelay = intra[i]
		p.Buckets[i].AvgClusterDelay = inter[i]
	}

	return p
}

// redistribute takes the excess mass of oversized clusters out of the top
// bucket and hands it to the buckets below, one fixed step per bucket, so the
// total stays 1.
func (c *Clusterer) redistribute(buckets []Bucket, excess float64) {
	n := len(buckets)
	if excess <= 0 || n < 2 {
		return
	}

	buckets[n-1].Probability -= excess

	step := c.config.RedistributionStep
	if step <= 0 {
		buckets[n-2].Probability += excess
		return
	}

	remaining := excess
	i := n - 2
	for remaining > 0 {
		share := math.Min(step, remaining)
		buckets[i].Probability += share
		remaining -= share
		i--
		if i < 0 {
			i = n - 2
		}
	}
}

// messageDelays returns the mean per-message delay for each bucket and the
// global mean over all clusters with at least two messages.
func (c *Clusterer) messageDelays(clusters []Cluster) ([]float64, float64) {
	maxLen := c.config.MaxClusterSize
	sums := make([]float64, maxLen)
	counts := make([]int, maxLen)

	var globalSum float64
	var globalN int
	for _, cl := range clusters {
		if cl.Size() < 2 {
			continue
		}
		var elapsed float64
		for i := 1; i < len(cl.Messages); i++ {
			elapsed += cl.Messages[i].Timestamp.Sub(cl.Messages[i-1].Timestamp).Seconds()
		}
		d := elapsed / float64(cl.Size()-1)

		b := cl.Length(maxLen) - 1
		sums[b] += d
		counts[b]++
		globalSum += d
		globalN++
	}

	return averages(sums, counts), mean(globalSum, globalN)
}

// clusterDelays attributes the gap before each cluster to that cluster's
// bucket, capping every gap at DelayCap.
func (c *Clusterer) clusterDelays(clusters []Cluster) ([]float64, float64) {
	maxLen := c.config.MaxClusterSize
	sums := make([]float64, maxLen)
	counts := make([]int, maxLen)
	limit := c.config.DelayCap.Seconds()

	var globalSum float64
	var globalN int
	for i := 1; i < len(clusters); i++ {
		next := clusters[i]
		if next.Size() == 0 || clusters[i-1].Size() == 0 {
			continue
		}
		gap := next.Start().Sub(clusters[i-1].End()).Seconds()
		if gap > limit {
			gap = limit
		}
		if gap < 0 {
			gap = 0
		}

		b := next.Length(maxLen) - 1
		sums[b] += gap
		counts[b]++
		globalSum += gap
		globalN++
	}

	return averages(sums, counts), mean(globalSum, globalN)
}

// fillZeros assigns global/divisor to buckets without an observed delay. The
// divisor starts at DivisorStart for the longest bucket and shrinks by
// DivisorStep per bucket, never below DivisorFloor.
//
// TODO: replace with kernel interpolation between observed buckets once there
// is enough data to compare the two on held-out chats.
func (c *Clusterer) fillZeros(values []float64, global float64) {
	divisor := c.config.DivisorStart
	floor := c.config.DivisorFloor
	if floor <= 0 {
		floor = 1
	}
	if divisor < floor {
		divisor = floor
	}

	for b := len(values) - 1; b >= 0; b-- {
		if values[b] == 0 {
			values[b] = global / divisor
		}
		divisor = math.Max(floor, divisor-c.config.DivisorStep)
	}
}

// smooth replaces an interior bucket by the mean of its neighbours when it sits
// above SmoothUpper times both of them or below SmoothLower times both.
func (c *Clusterer) smooth(values []float64) {
	if len(values) < 3 {
		return
	}
	prev := append([]float64(nil), values...)

	for b := 1; b < len(prev)-1; b++ {
		left, v, right := prev[b-1], prev[b], prev[b+1]
		spike := v > c.config.SmoothUpper*left && v > c.config.SmoothUpper*right
		dip := v < c.config.SmoothLower*left && v < c.config.SmoothLower*right
		if spike || dip {
			values[b] = (left + right) / 2
		}
	}
}

func averages(sums []float64, counts []int) []float64 {
	out := make([]float64, len(sums))
	for i := range sums {
		if counts[i] > 0 {
			out[i] = sums[i] / float64(counts[i])
		}
	}
	return out
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
