package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"lmcbatch/internal/corpus"
	"lmcbatch/internal/diag"
	"lmcbatch/internal/inventory"
	"lmcbatch/internal/loader"
	"lmcbatch/internal/marginal"
	"lmcbatch/pkg/contract"
	"lmcbatch/pkg/registry"
)

func cfgErr(format string, a ...any) error {
	return fmt.Errorf("%w: config: %s", contract.ErrConfiguration, fmt.Sprintf(format, a...))
}

// Validate 对最小必要边界做静态校验（与子命令无关的部分）。
func Validate(cfg Config) error {
	if cfg.Epochs < 1 {
		return cfgErr("epochs must be >= 1, got %d", cfg.Epochs)
	}
	if cfg.Prefetch < 0 {
		return cfgErr("prefetch must be >= 0, got %d", cfg.Prefetch)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return cfgErr("unknown logging.level %q", cfg.Logging.Level)
	}
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return cfgErr("input path cannot be empty")
		}
	}
	d := Defaults().Components
	if name := effName(cfg.Components.DatasetReader, d.DatasetReader); registry.DatasetReader[name] == nil {
		return cfgErr("dataset_reader %q not registered", name)
	}
	if name := effName(cfg.Components.DocumentReader, d.DocumentReader); registry.DocumentReader[name] == nil {
		return cfgErr("document_reader %q not registered", name)
	}
	if name := effName(cfg.Components.Vocab, d.Vocab); registry.Vocab[name] == nil {
		return cfgErr("vocab %q not registered", name)
	}
	if name := effName(cfg.Components.Batcher, d.Batcher); registry.Batcher[name] == nil {
		return cfgErr("batcher %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return cfgErr("writer %q not registered", name)
	}
	return nil
}

// Assemble 为 run 子命令加载资源并构造批处理器、Writer 与运行设置。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(ctx context.Context, cfg Config, logger *diag.Logger) (loader.Components, loader.Settings, error) {
	var comp loader.Components
	var set loader.Settings
	if err := Validate(cfg); err != nil {
		return comp, set, err
	}
	w, err := NewWriter(cfg)
	if err != nil {
		return comp, set, err
	}
	v, err := NewVocab(cfg)
	if err != nil {
		return comp, set, err
	}
	deps := registry.Deps{Vocab: v}
	if len(cfg.Options.MetadataVocab) > 0 {
		mv, err := registry.Vocab[effName(cfg.Components.Vocab, Defaults().Components.Vocab)](cfg.Options.MetadataVocab)
		if err != nil {
			return comp, set, fmt.Errorf("metadata vocab: %w", err)
		}
		deps.MetadataVocab = mv
	}

	bn := effName(cfg.Components.Batcher, Defaults().Components.Batcher)
	if bn == "skipgram" {
		if cfg.Resources.Corpus == "" {
			return comp, set, cfgErr("skipgram requires resources.corpus")
		}
		t := logger.Start("corpus", "load")
		c, err := LoadCorpus(cfg.Resources.Corpus)
		if err != nil {
			return comp, set, err
		}
		t.Finish("load", int64(c.Len()))
		deps.Corpus = c
	} else {
		ds, err := ReadDataset(ctx, cfg, logger)
		if err != nil {
			return comp, set, err
		}
		deps.Dataset = ds
		if p := cfg.Resources.Inventory; p != "" {
			inv, err := inventory.Load(p, cfg.Resources.CleanInventory)
			if err != nil {
				return comp, set, err
			}
			deps.Inventory = inv
		}
		if p := cfg.Resources.Marginals; p != "" {
			m, err := marginal.Load(p)
			if err != nil {
				return comp, set, err
			}
			deps.Marginals = m
		}
	}

	b, err := registry.Batcher[bn](deps, cfg.Options.Batcher)
	if err != nil {
		return comp, set, err
	}
	comp = loader.Components{Batcher: b, Writer: w}
	set = loader.Settings{
		Epochs:   cfg.Epochs,
		Shuffle:  cfg.Shuffle == nil || *cfg.Shuffle,
		Prefetch: cfg.Prefetch,
		Name:     bn,
	}
	return comp, set, nil
}

// NewWriter 构造配置中的 Writer。
func NewWriter(cfg Config) (contract.Writer, error) {
	return registry.Writer[effName(cfg.Components.Writer, Defaults().Components.Writer)](cfg.Options.Writer)
}

// NewVocab 构造配置中的词表。
func NewVocab(cfg Config) (contract.Vocabulary, error) {
	return registry.Vocab[effName(cfg.Components.Vocab, Defaults().Components.Vocab)](cfg.Options.Vocab)
}

// NewDocumentReader 构造配置中的文档读取器。
func NewDocumentReader(cfg Config) (contract.DocumentReader, error) {
	return registry.DocumentReader[effName(cfg.Components.DocumentReader, Defaults().Components.DocumentReader)](cfg.Options.DocumentReader)
}

// ReadDataset 依次读取全部 inputs 并拼接行；列集合取各来源的交集。
// 显式 row_idx 列原样保留。
func ReadDataset(ctx context.Context, cfg Config, logger *diag.Logger) (contract.Dataset, error) {
	if len(cfg.Inputs) == 0 {
		return contract.Dataset{}, cfgErr("inputs empty")
	}
	name := effName(cfg.Components.DatasetReader, Defaults().Components.DatasetReader)
	r, err := registry.DatasetReader[name](cfg.Options.DatasetReader)
	if err != nil {
		return contract.Dataset{}, err
	}
	var out contract.Dataset
	for i, src := range cfg.Inputs {
		if strings.TrimSpace(src) == "-" {
			return contract.Dataset{}, cfgErr("dataset reader %q cannot read STDIN", name)
		}
		t := logger.StartWith("dataset_reader", "read", "", src)
		ds, err := r.Read(ctx, src)
		if err != nil {
			return contract.Dataset{}, fmt.Errorf("read %s: %w", src, err)
		}
		t.Finish("read", int64(len(ds.Rows)))
		if i == 0 {
			out.Columns = ds.Columns
		} else {
			for c := range out.Columns {
				if !ds.Columns[c] {
					delete(out.Columns, c)
				}
			}
		}
		// 来源未提供 row_idx 时行号按拼接后的全局位置编号，保证跨来源唯一。
		if !ds.Has(contract.ColRowIdx) {
			base := len(out.Rows)
			for j := range ds.Rows {
				ds.Rows[j].RowIdx += base
			}
		}
		out.Rows = append(out.Rows, ds.Rows...)
	}
	return out, nil
}

// LoadCorpus 读取 ids 子命令写出的语料二进制。
func LoadCorpus(path string) (contract.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return contract.Corpus{}, fmt.Errorf("%w: corpus: %v", contract.ErrConfiguration, err)
	}
	defer f.Close()
	c, err := corpus.Decode(f)
	if err != nil {
		return contract.Corpus{}, fmt.Errorf("corpus %s: %w", path, err)
	}
	return c, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
