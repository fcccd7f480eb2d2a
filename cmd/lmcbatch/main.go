package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lmcbatch/internal/config"
	"lmcbatch/internal/corpus"
	"lmcbatch/internal/diag"
	"lmcbatch/internal/loader"
	"lmcbatch/internal/marginal"
	"lmcbatch/pkg/contract"
)

var loaderRun = loader.Run

// 子命令：run（默认）逐轮产出批；ids 将文档转换为扁平 id 语料；marginals 统计 p(metadata | LF)。
// 位置参数覆盖配置中的 inputs。
const (
	cmdRun       = "run"
	cmdIDs       = "ids"
	cmdMarginals = "marginals"
)

func main() {
	os.Exit(run())
}

// exitCode: 0 成功；3 配置错误；1 其余运行期错误。
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, contract.ErrConfiguration) {
		return 3
	}
	return 1
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	logger := diag.NewLogger(corrID, "info", config.Defaults().Logging.Dir)

	cmd := popSubcommand()
	var (
		flagConfig   string
		flagEpochs   int
		flagPrefetch int
		flagNoShuf   bool
		flagBatcher  string
		flagLevel    string
		flagOut      string
		flagColumn   string
		flagInitDir  string
		flagStatus   bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.IntVar(&flagEpochs, "epochs", 0, "轮数（覆盖配置）")
	// prefetch 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.IntVar(&flagPrefetch, "prefetch", -1, "预取批数（覆盖配置；0 表示同步交接）")
	flag.BoolVar(&flagNoShuf, "no-shuffle", false, "每轮不打乱样本顺序")
	flag.StringVar(&flagBatcher, "batcher", "", "批处理器名称 acronym|skipgram（覆盖配置）")
	flag.StringVar(&flagLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	flag.StringVar(&flagOut, "out", "", "ids/marginals 产物标识（相对 Writer 输出根）；默认 corpus.bin / marginals.json")
	flag.StringVar(&flagColumn, "column", string(contract.ColSection), "marginals 统计的元信息列 section|category")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（已存在则跳过）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return 3
	}
	roots := flag.Args()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), config.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	// JSON 配置（文件或 ENV: LMCB_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv(config.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := config.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := config.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "load config", &start)
			return 3
		}
		cfg = config.Merge(cfg, base)
	}
	overEnv, err := config.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "env overlay", &start)
		return 3
	}
	cfg = config.Merge(cfg, overEnv)

	// CLI 覆盖
	overCLI := config.Config{Prefetch: flagPrefetch, Epochs: flagEpochs}
	overCLI.Components.Batcher = flagBatcher
	overCLI.Logging.Level = flagLevel
	if flagNoShuf {
		no := false
		overCLI.Shuffle = &no
	}
	if len(roots) > 0 {
		overCLI.Inputs = roots
	}
	cfg = config.Merge(cfg, overCLI)

	if err := config.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("cli", string(diag.Classify(err)), "validate config", &start)
		return 3
	}

	// 使用最终配置重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "preflight", &start)
		return 3
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"command":        cmd,
		"inputs_count":   strconv.Itoa(len(cfg.Inputs)),
		"epochs":         strconv.Itoa(cfg.Epochs),
		"prefetch":       strconv.Itoa(cfg.Prefetch),
		"dataset_reader": cfg.Components.DatasetReader,
		"batcher":        cfg.Components.Batcher,
		"writer":         cfg.Components.Writer,
	})

	t := logger.Start("cli", cmd)
	switch cmd {
	case cmdIDs:
		err = runIDs(ctx, cfg, flagOut, logger)
	case cmdMarginals:
		err = runMarginals(ctx, cfg, flagOut, contract.Column(flagColumn), logger)
	default:
		err = runBatches(ctx, cfg, flagStatus, logger)
	}
	if err != nil {
		code := diag.Classify(err)
		logger.Error("cli", string(code), err.Error(), &start)
		diag.IncOp("cli", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("cli", string(code))
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return exitCode(err)
	}
	t.Finish(cmd, 0)
	diag.IncOp("cli", "finish", "success")
	logger.DebugStart("metrics", "snapshot", "", "", diag.SnapshotKV())
	return 0
}

func runBatches(ctx context.Context, cfg config.Config, status bool, logger *diag.Logger) error {
	comp, set, err := config.Assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	term := diag.NewTerminal(os.Stderr, status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	st, err := loaderRun(ctx, comp, set, logger)
	if err != nil {
		return err
	}
	logger.DebugStart("loader", "stats", "", "", map[string]string{
		"epochs":   strconv.Itoa(st.Epochs),
		"batches":  strconv.Itoa(st.Batches),
		"examples": strconv.Itoa(st.Examples),
		"misses":   strconv.Itoa(st.Misses),
	})
	return nil
}

// metadataStarter: 词表可选能力，报告元信息标记 id 的起点。
type metadataStarter interface {
	MetadataStart() int
}

func runIDs(ctx context.Context, cfg config.Config, out string, logger *diag.Logger) error {
	if out == "" {
		out = "corpus.bin"
	}
	v, err := config.NewVocab(cfg)
	if err != nil {
		return err
	}
	metaStart := 0
	if ms, ok := v.(metadataStarter); ok {
		metaStart = ms.MetadataStart()
	}
	r, err := config.NewDocumentReader(cfg)
	if err != nil {
		return err
	}
	w, err := config.NewWriter(cfg)
	if err != nil {
		return err
	}
	b := corpus.NewBuilder(v, metaStart)
	t := logger.Start("corpus", "build")
	if err := corpus.Build(ctx, r, cfg.Inputs, b); err != nil {
		return err
	}
	c := b.Corpus()
	t.Finish("build", int64(c.Len()))
	if b.Misses() > 0 {
		logger.WarnKV("corpus", "unknown tokens mapped to 0", "", "", map[string]string{
			"misses": strconv.Itoa(b.Misses()),
			"docs":   strconv.Itoa(b.Docs()),
		})
	}

	// 流式编码：单次调用 Writer.Write
	pr, pw := io.Pipe()
	go func() { _ = pw.CloseWithError(corpus.Encode(pw, c)) }()
	wt := logger.StartWith("writer", "write", "", out)
	if err := w.Write(ctx, contract.ArtifactID(out), pr); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("write corpus: %w", err)
	}
	wt.Finish("write", 1)
	return nil
}

func runMarginals(ctx context.Context, cfg config.Config, out string, col contract.Column, logger *diag.Logger) error {
	if out == "" {
		out = "marginals.json"
	}
	ds, err := config.ReadDataset(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if miss := ds.Missing(contract.ColTargetLFSense, col); len(miss) > 0 {
		return fmt.Errorf("%w: marginals: dataset missing columns %v", contract.ErrConfiguration, miss)
	}
	ct := logger.StartWith("marginals", "compute", "", string(col))
	t, err := marginal.Compute(ds.Rows, col)
	if err != nil {
		return err
	}
	ct.Finish("compute", int64(len(t)))
	b, err := marginal.Marshal(t)
	if err != nil {
		return err
	}
	w, err := config.NewWriter(cfg)
	if err != nil {
		return err
	}
	if err := w.Write(ctx, contract.ArtifactID(out), bytes.NewReader(append(b, '\n'))); err != nil {
		return fmt.Errorf("write marginals: %w", err)
	}
	return nil
}

// popSubcommand 取出 os.Args[1] 中的子命令（若有），其余参数保持原位。
func popSubcommand() string {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case cmdRun, cmdIDs, cmdMarginals:
			cmd := os.Args[1]
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
			return cmd
		}
	}
	return cmdRun
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c config.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c config.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// loadDotEnv 读取简单的 .env 文件并注入进程环境。
// 跳过空行与 # 注释；支持 "export " 前缀；去除成对引号；不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`).Replace(val)
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: --init-config 未带值（位于末尾或后接其他开关）时补默认值 "."。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# lmcbatch .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON；空值表示未设置。\n\n")
	b.WriteString("# 配置来源（二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(config.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "EPOCHS", "SHUFFLE", "PREFETCH", "LOG_LEVEL", "LOG_DIR"} {
		b.WriteString(config.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"DATASET_READER", "DOCUMENT_READER", "VOCAB", "BATCHER", "WRITER"} {
		b.WriteString(config.EnvPrefix + "COMPONENTS_" + k + "=\n")
	}
	b.WriteString("\n# 资源\n")
	for _, k := range []string{"INVENTORY", "CLEAN_INVENTORY", "MARGINALS", "CORPUS"} {
		b.WriteString(config.EnvPrefix + "RESOURCES_" + k + "=\n")
	}
	b.WriteString("\n# 组件选项（原样 JSON）\n")
	for _, k := range []string{"DATASET_READER", "DOCUMENT_READER", "VOCAB", "METADATA_VOCAB", "BATCHER", "WRITER"} {
		b.WriteString(config.EnvPrefix + "OPTIONS_" + k + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: Writer 为 fs 时，启动前检查输出目录（或其父目录）可写。
func preflightCheckOutputDir(cfg config.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = config.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 交由装配阶段按实现报错
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		return probeDir(dir, false)
	case err == nil:
		return fmt.Errorf("%w: 路径存在但不是目录: %s", contract.ErrConfiguration, dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("%w: 无法确定父目录: %s", contract.ErrConfiguration, dir)
	}
	// 父目录可能尚不存在：向上找到首个存在的祖先
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("%w: 父路径不是目录: %s", contract.ErrConfiguration, parent)
			}
			return probeDir(parent, true)
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return err
		}
		parent = next
	}
}

func probeDir(dir string, asDir bool) error {
	if asDir {
		tmp, err := os.MkdirTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		return os.RemoveAll(tmp)
	}
	f, err := os.CreateTemp(dir, ".wcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
