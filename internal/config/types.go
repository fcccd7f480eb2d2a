package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Inputs: run/marginals 为数据集来源（CSV/TSV/SQLite 路径）；ids 为文档根（文件/目录/"-"）。
	Inputs []string `json:"inputs"`
	Epochs int      `json:"epochs"`
	// Shuffle: 每轮 Reset 前是否打乱；nil 表示未设置。
	Shuffle *bool `json:"shuffle,omitempty"`
	// Prefetch: 生产者领先消费者的最大批数（0 为同步交接）；-1 表示未覆盖。
	Prefetch int     `json:"prefetch"`
	Logging  Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 只读资源文件路径。
	Resources Resources `json:"resources"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与目录（目录为空时写 stderr）。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	DatasetReader  string `json:"dataset_reader"`
	DocumentReader string `json:"document_reader"`
	Vocab          string `json:"vocab"`
	Batcher        string `json:"batcher"`
	Writer         string `json:"writer"`
}

// Resources: 批处理器的只读协作方来源。
type Resources struct {
	// Inventory: SF → [LF...] JSON；acronym 必需。
	Inventory string `json:"inventory"`
	// CleanInventory: 加载时清洗 LF（去黑名单后缀、去重排序）。
	CleanInventory bool `json:"clean_inventory"`
	// Marginals: LF → p(metadata) JSON；use_marginals 时必需。
	Marginals string `json:"marginals"`
	// Corpus: ids 子命令产出的语料二进制；skipgram 必需。
	Corpus string `json:"corpus"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	DatasetReader  json.RawMessage `json:"dataset_reader"`
	DocumentReader json.RawMessage `json:"document_reader"`
	Vocab          json.RawMessage `json:"vocab"`
	// MetadataVocab: 元信息（section/category）词表，与 Vocab 同一实现；为空时共用 Vocab。
	MetadataVocab json.RawMessage `json:"metadata_vocab"`
	Batcher       json.RawMessage `json:"batcher"`
	Writer        json.RawMessage `json:"writer"`
}
