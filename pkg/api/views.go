package api

import (
	"bytes"
	"fmt"
	"strconv"

	"meshnode/pkg/router"
)

const infiniteToken = "infinite"

// Metric is the transport form of a route metric: either a finite value or
// infinite. Finite metrics encode as a JSON number, infinite as the string
// "infinite".
type Metric struct {
	value    uint16
	infinite bool
}

func FiniteMetric(v uint16) Metric { return Metric{value: v} }

func InfiniteMetric() Metric { return Metric{infinite: true} }

func (m Metric) IsInfinite() bool { return m.infinite }

// Value returns the finite value; ok is false for an infinite metric.
func (m Metric) Value() (v uint16, ok bool) {
	if m.infinite {
		return 0, false
	}
	return m.value, true
}

func (m Metric) String() string {
	if m.infinite {
		return infiniteToken
	}
	return strconv.FormatUint(uint64(m.value), 10)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if m.infinite {
		return []byte(`"` + infiniteToken + `"`), nil
	}
	return strconv.AppendUint(nil, uint64(m.value), 10), nil
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == `"`+infiniteToken+`"` {
		*m = InfiniteMetric()
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 16)
	if err != nil {
		return fmt.Errorf("invalid metric %s", data)
	}
	*m = FiniteMetric(uint16(v))
	return nil
}

func metricView(m router.Metric) Metric {
	if m.IsInfinite() {
		return InfiniteMetric()
	}
	return FiniteMetric(uint16(m))
}

// Route is the JSON form of one routing table entry.
type Route struct {
	Subnet  string `json:"subnet"`
	NextHop string `json:"nextHop"`
	Metric  Metric `json:"metric"`
	Seqno   uint16 `json:"seqno"`
}

// Info describes the node itself.
type Info struct {
	NodeSubnet string `json:"nodeSubnet"`
}

// routeViews maps table records to their JSON form. It is shared by the
// selected and fallback listings and never returns nil.
func routeViews(records []router.RouteRecord) []Route {
	out := make([]Route, 0, len(records))
	for _, rec := range records {
		out = append(out, Route{
			Subnet:  rec.Subnet.String(),
			NextHop: rec.NextHop,
			Metric:  metricView(rec.Metric),
			Seqno:   rec.Seqno,
		})
	}
	return out
}
