package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"lmcbatch/pkg/contract"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "LMCB_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	shuffle := true
	return Config{
		Epochs:   1,
		Shuffle:  &shuffle,
		Prefetch: 2,
		Logging:  Logging{Level: "info", Dir: "logs"},
		Components: Components{
			DatasetReader:  "csv",
			DocumentReader: "fs",
			Vocab:          "table",
			Batcher:        "acronym",
			Writer:         "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 未出现的 prefetch 记为 -1，使 Merge 能区分“未设置”与显式 0。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Config{Prefetch: -1}
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: config: %v", contract.ErrConfiguration, err)
		}
		defer f.Close()
		r = f
	default:
		return cfg, fmt.Errorf("%w: config: no source provided", contract.ErrConfiguration)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: config: %v", contract.ErrConfiguration, err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Epochs != 0 {
		out.Epochs = over.Epochs
	}
	if over.Shuffle != nil {
		v := *over.Shuffle
		out.Shuffle = &v
	}
	// 0 具有语义（同步交接），-1 视为未覆盖
	if over.Prefetch >= 0 {
		out.Prefetch = over.Prefetch
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.DatasetReader, over.Components.DatasetReader)
	mergeName(&out.Components.DocumentReader, over.Components.DocumentReader)
	mergeName(&out.Components.Vocab, over.Components.Vocab)
	mergeName(&out.Components.Batcher, over.Components.Batcher)
	mergeName(&out.Components.Writer, over.Components.Writer)

	// 资源路径
	mergeName(&out.Resources.Inventory, over.Resources.Inventory)
	mergeName(&out.Resources.Marginals, over.Resources.Marginals)
	mergeName(&out.Resources.Corpus, over.Resources.Corpus)
	if over.Resources.CleanInventory {
		out.Resources.CleanInventory = true
	}

	// Options（完整替换对应键）
	mergeRaw(&out.Options.DatasetReader, over.Options.DatasetReader)
	mergeRaw(&out.Options.DocumentReader, over.Options.DocumentReader)
	mergeRaw(&out.Options.Vocab, over.Options.Vocab)
	mergeRaw(&out.Options.MetadataVocab, over.Options.MetadataVocab)
	mergeRaw(&out.Options.Batcher, over.Options.Batcher)
	mergeRaw(&out.Options.Writer, over.Options.Writer)
	return out
}

func mergeName(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func mergeRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，前缀 LMCB_）。
// 支持：INPUTS, EPOCHS, SHUFFLE, PREFETCH, LOG_LEVEL, LOG_DIR, COMPONENTS_*, RESOURCES_*,
// 以及 OPTIONS_<COMPONENT>_JSON（原样 JSON）。
func EnvOverlay(environ []string) (Config, error) {
	over := Config{Prefetch: -1}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置
			continue
		}
		switch key {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "EPOCHS":
			v, err := atoi(key, val)
			if err != nil {
				return over, err
			}
			over.Epochs = v
		case "PREFETCH":
			v, err := atoi(key, val)
			if err != nil {
				return over, err
			}
			over.Prefetch = v
		case "SHUFFLE":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return over, fmt.Errorf("%w: env %s%s: %v", contract.ErrConfiguration, EnvPrefix, key, err)
			}
			over.Shuffle = &b
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "COMPONENTS_DATASET_READER":
			over.Components.DatasetReader = val
		case "COMPONENTS_DOCUMENT_READER":
			over.Components.DocumentReader = val
		case "COMPONENTS_VOCAB":
			over.Components.Vocab = val
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "RESOURCES_INVENTORY":
			over.Resources.Inventory = val
		case "RESOURCES_CLEAN_INVENTORY":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return over, fmt.Errorf("%w: env %s%s: %v", contract.ErrConfiguration, EnvPrefix, key, err)
			}
			over.Resources.CleanInventory = b
		case "RESOURCES_MARGINALS":
			over.Resources.Marginals = val
		case "RESOURCES_CORPUS":
			over.Resources.Corpus = val
		case "OPTIONS_DATASET_READER_JSON":
			over.Options.DatasetReader = json.RawMessage(val)
		case "OPTIONS_DOCUMENT_READER_JSON":
			over.Options.DocumentReader = json.RawMessage(val)
		case "OPTIONS_VOCAB_JSON":
			over.Options.Vocab = json.RawMessage(val)
		case "OPTIONS_METADATA_VOCAB_JSON":
			over.Options.MetadataVocab = json.RawMessage(val)
		case "OPTIONS_BATCHER_JSON":
			over.Options.Batcher = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		default:
			// CONFIG_FILE/CONFIG_JSON 由 CLI 读取；其余未知键忽略。
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(key, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: env %s%s: %v", contract.ErrConfiguration, EnvPrefix, key, err)
	}
	return n, nil
}
