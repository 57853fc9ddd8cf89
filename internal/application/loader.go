package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/priceflow/pam-engine/internal/domain"
)

// GraphLoader parses, validates, and caches YAML graph definitions,
// turning declarative mechanism files into domain graphs.
// Identical definitions are compiled once: loads are deduplicated by a
// SHA-256 digest of the normalized configuration and guarded by
// singleflight so concurrent loads of the same file share one build.
type GraphLoader struct {
	// validate performs struct tag validation on parsed configs.
	validate *validator.Validate
	// graphValidator performs the engine's semantic validation on the
	// built graph.
	graphValidator *Validator
	// cache maps config digests to built graphs. Cached graphs are
	// shared and must not be mutated by callers.
	cache   map[string]*domain.PAMGraph
	cacheMu sync.RWMutex
	// sf prevents duplicate builds when multiple goroutines request
	// the same definition simultaneously.
	sf singleflight.Group
}

// NewGraphLoader creates a loader that validates built graphs with the
// given engine validator.
// NewGraphLoader returns an error if validator registration fails.
func NewGraphLoader(graphValidator *Validator) (*GraphLoader, error) {
	v := validator.New()
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return nil, fmt.Errorf("failed to register semver validator: %w", err)
	}

	return &GraphLoader{
		validate:       v,
		graphValidator: graphValidator,
		cache:          make(map[string]*domain.PAMGraph),
	}, nil
}

// LoadFromFile loads a graph definition from a YAML file.
// The returned graph is a shared cached instance; callers must treat
// it as immutable.
func (gl *GraphLoader) LoadFromFile(path string) (*domain.PAMGraph, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return gl.load(data)
}

// LoadFromReader loads a graph definition from any reader.
// The returned graph is a shared cached instance; callers must treat
// it as immutable.
func (gl *GraphLoader) LoadFromReader(r io.Reader) (*domain.PAMGraph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return gl.load(data)
}

// load parses, validates, builds, and caches one definition.
func (gl *GraphLoader) load(data []byte) (*domain.PAMGraph, error) {
	config, err := gl.parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Hash the normalized config, not the raw bytes, so formatting
	// differences share a cache entry.
	digest, err := configDigest(config)
	if err != nil {
		return nil, fmt.Errorf("failed to hash config: %w", err)
	}

	v, err, _ := gl.sf.Do(digest, func() (any, error) {
		if graph, ok := gl.cached(digest); ok {
			return graph, nil
		}

		if err := gl.validate.Struct(config); err != nil {
			return nil, fmt.Errorf("struct validation failed: %w", err)
		}

		graph, err := gl.buildGraph(config)
		if err != nil {
			return nil, err
		}

		if result := gl.graphValidator.Validate(graph); !result.Valid() {
			return nil, domain.NewCompilationError(result)
		}

		gl.cacheMu.Lock()
		gl.cache[digest] = graph
		gl.cacheMu.Unlock()
		return graph, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PAMGraph), nil
}

// parseYAML decodes strictly so that typos in definition files fail
// loudly instead of being ignored.
func (gl *GraphLoader) parseYAML(data []byte) (*GraphConfig, error) {
	var config GraphConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

// buildGraph converts a validated config into a domain graph with
// typed node configurations.
func (gl *GraphLoader) buildGraph(config *GraphConfig) (*domain.PAMGraph, error) {
	graph := &domain.PAMGraph{
		Nodes:  make([]domain.GraphNode, 0, len(config.Nodes)),
		Edges:  make([]domain.GraphEdge, 0, len(config.Edges)),
		Output: config.Output,
		Metadata: domain.GraphMetadata{
			BaseCurrency: config.Metadata.BaseCurrency,
			BaseUnit:     config.Metadata.BaseUnit,
			Description:  config.Metadata.Description,
		},
	}

	for _, def := range config.Nodes {
		cfg, err := decodeNodeConfig(def)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", def.ID, err)
		}
		graph.Nodes = append(graph.Nodes, domain.GraphNode{
			ID:     def.ID,
			Type:   domain.NodeType(def.Type),
			Config: cfg,
			Label:  def.Label,
		})
	}

	for _, def := range config.Edges {
		graph.Edges = append(graph.Edges, domain.GraphEdge{From: def.From, To: def.To})
	}

	return graph, nil
}

// decodeNodeConfig decodes a node's raw params against the schema of
// its declared type.
func decodeNodeConfig(def NodeDef) (domain.NodeConfig, error) {
	switch domain.NodeType(def.Type) {
	case domain.NodeFactor:
		var p factorParams
		if err := decodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		cfg := domain.FactorConfig{Unit: p.Unit, Currency: p.Currency}
		if p.Value != nil {
			cfg.Value = decimalPtr(p.Value.Decimal)
		}
		cfg.Series = seriesRef(p.Series)
		return cfg, nil

	case domain.NodeTransform:
		var p transformParams
		if err := decodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		cfg := domain.TransformConfig{Op: domain.TransformOp(p.Op), Decimals: p.Decimals}
		if p.Exponent != nil {
			cfg.Exponent = decimalPtr(p.Exponent.Decimal)
		}
		if p.BaseValue != nil {
			cfg.BaseValue = decimalPtr(p.BaseValue.Decimal)
		}
		return cfg, nil

	case domain.NodeConvert:
		var p convertParams
		if err := decodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		cfg := domain.ConvertConfig{
			Kind:     domain.ConversionKind(p.Type),
			From:     p.From,
			To:       p.To,
			FXSeries: seriesRef(p.FXSeries),
		}
		if p.ConversionFactor != nil {
			cfg.ConversionFactor = decimalPtr(p.ConversionFactor.Decimal)
		}
		if p.Density != nil {
			cfg.Density = decimalPtr(p.Density.Decimal)
		}
		if p.FixedRate != nil {
			cfg.FixedRate = decimalPtr(p.FixedRate.Decimal)
		}
		return cfg, nil

	case domain.NodeCombine:
		var p combineParams
		if err := decodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		cfg := domain.CombineConfig{Op: domain.CombineOp(p.Op)}
		for _, w := range p.Weights {
			cfg.Weights = append(cfg.Weights, w.Decimal)
		}
		return cfg, nil

	case domain.NodeControls:
		var p controlsParams
		if err := decodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		cfg := domain.ControlsConfig{}
		if p.Cap != nil {
			cfg.Cap = decimalPtr(p.Cap.Decimal)
		}
		if p.Floor != nil {
			cfg.Floor = decimalPtr(p.Floor.Decimal)
		}
		if p.TriggerBand != nil {
			cfg.TriggerBand = &domain.TriggerBand{
				Lower: p.TriggerBand.Lower.Decimal,
				Upper: p.TriggerBand.Upper.Decimal,
			}
		}
		if p.SpikeSharing != nil {
			cfg.SpikeSharing = &domain.SpikeSharing{
				SharePercent: p.SpikeSharing.SharePercent.Decimal,
				Direction:    domain.SpikeDirection(p.SpikeSharing.Direction),
			}
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown node type %q", def.Type)
	}
}

// decodeParams decodes the raw params node, tolerating absent params
// for types whose fields are all optional.
func decodeParams(params yaml.Node, out any) error {
	if params.IsZero() {
		return nil
	}
	if err := params.Decode(out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// seriesRef converts optional series params.
func seriesRef(p *seriesParams) *domain.SeriesRef {
	if p == nil {
		return nil
	}
	return &domain.SeriesRef{
		Code:        p.Code,
		LagDays:     p.LagDays,
		Aggregation: domain.AggregationOp(p.Aggregation),
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// cached returns a previously built graph for a config digest.
func (gl *GraphLoader) cached(digest string) (*domain.PAMGraph, bool) {
	gl.cacheMu.RLock()
	defer gl.cacheMu.RUnlock()
	graph, ok := gl.cache[digest]
	return graph, ok
}

// ClearCache drops all cached graphs, forcing subsequent loads to
// rebuild from source.
func (gl *GraphLoader) ClearCache() {
	gl.cacheMu.Lock()
	defer gl.cacheMu.Unlock()
	gl.cache = make(map[string]*domain.PAMGraph)
}

// configDigest hashes the normalized re-encoded config so whitespace
// and key-order differences share a cache entry.
func configDigest(config *GraphConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:]), nil
}

// validateSemver accepts X.Y.Z with non-negative integer components.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	n, err := fmt.Sscanf(fl.Field().String(), "%d.%d.%d", &major, &minor, &patch)
	return err == nil && n == 3
}
