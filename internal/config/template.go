package config

import "encoding/json"

// DefaultTemplateConfig 返回默认配置模板：acronym 批处理器读取 data/train.csv，
// 资源位于 data/，产物写入 ./out；选项列出全部键并给出中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:     []string{"data/train.csv"},
		Epochs:     d.Epochs,
		Shuffle:    d.Shuffle,
		Prefetch:   d.Prefetch,
		Logging:    d.Logging,
		Components: d.Components,
		Resources: Resources{
			Inventory:      "data/sf_lf_map.json",
			CleanInventory: true,
			Marginals:      "",
			Corpus:         "",
		},
	}
	cfg.Options.DatasetReader = json.RawMessage(`{
  "comma": "",
  "lazy_quotes": false
}`)
	cfg.Options.DocumentReader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git"],
  "extensions": [".txt", ".json"],
  "json_pairs": false
}`)
	cfg.Options.Vocab = json.RawMessage(`{
  "path": "data/vocab.json",
  "seed": 0
}`)
	cfg.Options.Batcher = json.RawMessage(`{
  "batch_size": 32,
  "metadata_column": "",
  "use_marginals": false,
  "global_context": false,
  "keep_remainder": false,
  "seed": 0
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "overwrite": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
