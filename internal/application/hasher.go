package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceflow/pam-engine/internal/domain"
)

// hashDomain is the domain-separation prefix for inputs hashes. The
// version suffix enables future algorithm migration without colliding
// with digests already persisted.
const hashDomain = "pam/inputs/v1"

// InputsHash computes the canonical 64-hex SHA-256 digest of a batch's
// inputs: the graph's full shape and node configuration, the as-of
// date, the version preference, and the sorted item id set.
//
// The encoding writes every field in a fixed order and never relies on
// map iteration, so structurally identical inputs hash identically
// across process restarts, while any semantically relevant change
// (graph shape, node config, item set, as-of date, version preference)
// changes the digest with overwhelming probability.
func InputsHash(in domain.BatchInputs) (string, error) {
	var buf bytes.Buffer

	if err := writeGraph(&buf, in.Graph); err != nil {
		return "", err
	}

	writeField(&buf, "asOf", in.AsOfDate.UTC().Format(time.RFC3339))
	writeField(&buf, "versionPreference", string(in.VersionPreference))
	for _, id := range in.SortedItemIDs() {
		writeField(&buf, "item", id)
	}

	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00}) // separator prevents domain/data boundary ambiguity
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GraphHash computes the digest of a graph and an evaluation context
// subset without an item set. It is used for revision detection:
// comparing a stored digest against a fresh one detects upstream
// changes without re-running calculations.
func GraphHash(graph *domain.PAMGraph, asOf time.Time, pref domain.VersionPreference) (string, error) {
	return InputsHash(domain.BatchInputs{Graph: graph, AsOfDate: asOf, VersionPreference: pref})
}

// RevisionChanged reports whether the freshly computed digest of the
// given inputs differs from a previously stored one.
func RevisionChanged(stored string, in domain.BatchInputs) (bool, error) {
	fresh, err := InputsHash(in)
	if err != nil {
		return false, err
	}
	return stored != fresh, nil
}

// writeGraph encodes the graph canonically: nodes in declaration order
// with their full configuration, edges in declaration order, then the
// output id and metadata.
func writeGraph(buf *bytes.Buffer, graph *domain.PAMGraph) error {
	if graph == nil {
		return fmt.Errorf("inputs hash requires a graph")
	}

	for _, n := range graph.Nodes {
		writeField(buf, "node", n.ID)
		writeField(buf, "type", string(n.Type))
		if err := writeConfig(buf, n.ID, n.Config); err != nil {
			return err
		}
	}
	for _, e := range graph.Edges {
		writeField(buf, "edge", e.From+"->"+e.To)
	}
	writeField(buf, "output", graph.Output)
	writeField(buf, "baseCurrency", graph.Metadata.BaseCurrency)
	writeField(buf, "baseUnit", graph.Metadata.BaseUnit)
	return nil
}

// writeConfig encodes one node's configuration with every field in a
// fixed order. Absent optional fields are encoded as empty so that
// setting a previously absent field always changes the digest.
func writeConfig(buf *bytes.Buffer, nodeID string, cfg domain.NodeConfig) error {
	switch c := cfg.(type) {
	case domain.FactorConfig:
		writeField(buf, "value", decimalField(c.Value))
		writeSeries(buf, "series", c.Series)
		writeField(buf, "unit", c.Unit)
		writeField(buf, "currency", c.Currency)
	case domain.TransformConfig:
		writeField(buf, "op", string(c.Op))
		writeField(buf, "exponent", decimalField(c.Exponent))
		if c.Decimals != nil {
			writeField(buf, "decimals", strconv.FormatInt(int64(*c.Decimals), 10))
		} else {
			writeField(buf, "decimals", "")
		}
		writeField(buf, "baseValue", decimalField(c.BaseValue))
	case domain.ConvertConfig:
		writeField(buf, "kind", string(c.Kind))
		writeField(buf, "from", c.From)
		writeField(buf, "to", c.To)
		writeField(buf, "conversionFactor", decimalField(c.ConversionFactor))
		writeField(buf, "density", decimalField(c.Density))
		writeSeries(buf, "fxSeries", c.FXSeries)
		writeField(buf, "fixedRate", decimalField(c.FixedRate))
	case domain.CombineConfig:
		writeField(buf, "op", string(c.Op))
		for _, w := range c.Weights {
			writeField(buf, "weight", w.String())
		}
	case domain.ControlsConfig:
		writeField(buf, "cap", decimalField(c.Cap))
		writeField(buf, "floor", decimalField(c.Floor))
		if c.TriggerBand != nil {
			writeField(buf, "bandLower", c.TriggerBand.Lower.String())
			writeField(buf, "bandUpper", c.TriggerBand.Upper.String())
		} else {
			writeField(buf, "bandLower", "")
			writeField(buf, "bandUpper", "")
		}
		if c.SpikeSharing != nil {
			writeField(buf, "sharePercent", c.SpikeSharing.SharePercent.String())
			writeField(buf, "shareDirection", string(c.SpikeSharing.Direction))
		} else {
			writeField(buf, "sharePercent", "")
			writeField(buf, "shareDirection", "")
		}
	case nil:
		return fmt.Errorf("node %s has no configuration", nodeID)
	default:
		return fmt.Errorf("node %s has unknown configuration type %T", nodeID, cfg)
	}
	return nil
}

// writeSeries encodes an optional series reference.
func writeSeries(buf *bytes.Buffer, key string, s *domain.SeriesRef) {
	if s == nil {
		writeField(buf, key, "")
		return
	}
	writeField(buf, key, s.Code)
	writeField(buf, key+".lagDays", strconv.Itoa(s.LagDays))
	writeField(buf, key+".aggregation", string(s.Aggregation))
}

// writeField appends one length-prefixed key/value pair. Length
// prefixes keep adjacent fields from running together, so no crafted
// value can collide with a different field split.
func writeField(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%d:%s=%d:%s;", len(key), key, len(value), value)
}

// decimalField renders an optional decimal canonically.
func decimalField(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
