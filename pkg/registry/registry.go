package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"lmcbatch/pkg/contract"
	"lmcbatch/plugins/batcher/acronym"
	"lmcbatch/plugins/batcher/skipgram"
	"lmcbatch/plugins/reader/csvfile"
	rfs "lmcbatch/plugins/reader/filesystem"
	rsql "lmcbatch/plugins/reader/sqlite"
	"lmcbatch/plugins/vocab/table"
	wfs "lmcbatch/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %v", contract.ErrConfiguration, err)
	}
	return nil
}

// Deps 为批处理器工厂提供已加载的数据与协作方；按批处理器种类取用所需字段。
type Deps struct {
	Dataset       contract.Dataset
	Corpus        contract.Corpus
	Vocab         contract.Vocabulary
	MetadataVocab contract.Vocabulary
	Inventory     contract.SenseInventory
	Marginals     contract.MetadataMarginals
}

// NewDatasetReader 工厂签名：接收原样 JSON Options。
type NewDatasetReader func(raw json.RawMessage) (contract.DatasetReader, error)

// NewDocumentReader 工厂签名：接收原样 JSON Options。
type NewDocumentReader func(raw json.RawMessage) (contract.DocumentReader, error)

// NewVocab 工厂签名：接收原样 JSON Options。
type NewVocab func(raw json.RawMessage) (contract.Vocabulary, error)

// NewBatcher 工厂签名：接收依赖与原样 JSON Options。
type NewBatcher func(deps Deps, raw json.RawMessage) (contract.Batcher, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// DatasetReader 工厂注册表（显式、零反射）。
var DatasetReader = map[string]NewDatasetReader{
	// csv: 带表头的 CSV/TSV
	"csv": func(raw json.RawMessage) (contract.DatasetReader, error) {
		var opts csvfile.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return csvfile.New(&opts)
	},
	// sqlite: 单表查询
	"sqlite": func(raw json.RawMessage) (contract.DatasetReader, error) {
		var opts rsql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rsql.New(&opts)
	},
}

// DocumentReader 工厂注册表。
var DocumentReader = map[string]NewDocumentReader{
	// fs: 文件系统/STDIN
	"fs": func(raw json.RawMessage) (contract.DocumentReader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Vocab 工厂注册表。
var Vocab = map[string]NewVocab{
	"table": func(raw json.RawMessage) (contract.Vocabulary, error) {
		var opts table.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return table.Load(opts)
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// acronym: 表格样本 → 对齐候选的缩写消歧批
	"acronym": func(deps Deps, raw json.RawMessage) (contract.Batcher, error) {
		var opts acronym.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		res := acronym.Resources{
			Vocab:         deps.Vocab,
			MetadataVocab: deps.MetadataVocab,
			Inventory:     deps.Inventory,
			Marginals:     deps.Marginals,
		}
		return acronym.New(deps.Dataset, res, opts)
	},
	// skipgram: 扁平语料 → 中心词/上下文/负样本批
	"skipgram": func(deps Deps, raw json.RawMessage) (contract.Batcher, error) {
		var opts skipgram.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return skipgram.New(deps.Corpus, deps.Vocab, opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换/覆盖可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
