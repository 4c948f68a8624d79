package formats

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/extract"
	"filesift/internal/syntax"
	"filesift/internal/syntax/languages"
)

// codeRules are the line-anchored patterns counted for one language.
type codeRules struct {
	language  string
	functions *regexp.Regexp
	classes   *regexp.Regexp
	imports   *regexp.Regexp
	comments  *regexp.Regexp
	includes  *regexp.Regexp
	defines   *regexp.Regexp
}

var (
	hashComment  = regexp.MustCompile(`^\s*#`)
	slashComment = regexp.MustCompile(`^\s*(//|/\*|\*)`)
	sqlComment   = regexp.MustCompile(`^\s*--`)
	cInclude     = regexp.MustCompile(`^\s*#\s*include\b`)
	cDefine      = regexp.MustCompile(`^\s*#\s*define\b`)
	cFunction    = regexp.MustCompile(`^\s*[A-Za-z_][\w\s\*&:<>,]*\s[\*&]?\s*[A-Za-z_][\w:]*\s*\([^;]*\)\s*(const\s*)?\{?\s*$`)
)

var sourceRules = map[string]codeRules{
	".py": {
		language:  "python",
		functions: regexp.MustCompile(`^\s*(async\s+)?def\s+\w+`),
		classes:   regexp.MustCompile(`^\s*class\s+\w+`),
		imports:   regexp.MustCompile(`^\s*(import|from)\s+\S+`),
		comments:  hashComment,
	},
	".go": {
		language:  "go",
		functions: regexp.MustCompile(`^func\s`),
		classes:   regexp.MustCompile(`^\s*type\s+\w+\s+(struct|interface)\b`),
		imports:   regexp.MustCompile(`^\s*import\b|^\s*"[\w./-]+"\s*$|^\s*\w+\s+"[\w./-]+"\s*$`),
		comments:  slashComment,
	},
	".js": {
		language:  "javascript",
		functions: regexp.MustCompile(`\bfunction\b|=>\s*\{?`),
		classes:   regexp.MustCompile(`^\s*(export\s+)?(default\s+)?class\s+\w+`),
		imports:   regexp.MustCompile(`^\s*import\s|\brequire\(`),
		comments:  slashComment,
	},
	".ts": {
		language:  "typescript",
		functions: regexp.MustCompile(`\bfunction\b|=>\s*\{?`),
		classes:   regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(abstract\s+)?(class|interface)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*import\s|\brequire\(`),
		comments:  slashComment,
	},
	".java": {
		language:  "java",
		functions: regexp.MustCompile(`^\s*(public|protected|private|static|final|abstract|synchronized|\s)+[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)\s*(throws\s+[\w.,\s]+)?\{?\s*$`),
		classes:   regexp.MustCompile(`^\s*(public\s+|abstract\s+|final\s+)*(class|interface|enum|record)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*import\s`),
		comments:  slashComment,
	},
	".cs": {
		language:  "csharp",
		functions: regexp.MustCompile(`^\s*(public|protected|private|internal|static|virtual|override|async|\s)+[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)\s*\{?\s*$`),
		classes:   regexp.MustCompile(`^\s*(public\s+|internal\s+|abstract\s+|sealed\s+|static\s+|partial\s+)*(class|interface|struct|record)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*using\s+[\w.]+\s*;`),
		comments:  slashComment,
	},
	".c": {
		language:  "c",
		functions: cFunction,
		classes:   regexp.MustCompile(`^\s*(typedef\s+)?struct\s+\w*\s*\{`),
		imports:   cInclude,
		comments:  slashComment,
		includes:  cInclude,
		defines:   cDefine,
	},
	".cpp": {
		language:  "cpp",
		functions: cFunction,
		classes:   regexp.MustCompile(`^\s*(class|struct)\s+\w+`),
		imports:   cInclude,
		comments:  slashComment,
		includes:  cInclude,
		defines:   cDefine,
	},
	".rb": {
		language:  "ruby",
		functions: regexp.MustCompile(`^\s*def\s+`),
		classes:   regexp.MustCompile(`^\s*(class|module)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*require(_relative)?\s`),
		comments:  hashComment,
	},
	".php": {
		language:  "php",
		functions: regexp.MustCompile(`\bfunction\s+\w+`),
		classes:   regexp.MustCompile(`^\s*(abstract\s+|final\s+)?(class|interface|trait)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*(use|require|require_once|include|include_once)\b`),
		comments:  regexp.MustCompile(`^\s*(//|/\*|\*|#)`),
	},
	".rs": {
		language:  "rust",
		functions: regexp.MustCompile(`^\s*(pub(\([\w:]+\))?\s+)?(async\s+)?(unsafe\s+)?fn\s+\w+`),
		classes:   regexp.MustCompile(`^\s*(pub(\([\w:]+\))?\s+)?(struct|enum|trait)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*(pub\s+)?use\s`),
		comments:  slashComment,
	},
	".swift": {
		language:  "swift",
		functions: regexp.MustCompile(`\bfunc\s+\w+`),
		classes:   regexp.MustCompile(`^\s*(public\s+|private\s+|final\s+|open\s+)*(class|struct|protocol|enum)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*import\s`),
		comments:  slashComment,
	},
	".kt": {
		language:  "kotlin",
		functions: regexp.MustCompile(`\bfun\s+`),
		classes:   regexp.MustCompile(`^\s*(data\s+|open\s+|abstract\s+|sealed\s+)*(class|interface|object)\s+\w+`),
		imports:   regexp.MustCompile(`^\s*import\s`),
		comments:  slashComment,
	},
	".sh": {
		language:  "shell",
		functions: regexp.MustCompile(`^\s*(function\s+\w+|\w+\s*\(\)\s*\{)`),
		classes:   regexp.MustCompile(`$^`),
		imports:   regexp.MustCompile(`^\s*(source|\.)\s+\S+`),
		comments:  regexp.MustCompile(`^\s*#[^!]|^\s*#$`),
	},
	".sql": {
		language:  "sql",
		functions: regexp.MustCompile(`(?i)^\s*create\s+(or\s+replace\s+)?(function|procedure)\b`),
		classes:   regexp.MustCompile(`(?i)^\s*create\s+table\b`),
		imports:   regexp.MustCompile(`$^`),
		comments:  sqlComment,
	},
}

// aliases maps extensions onto the rule set of a sibling language.
var sourceAliases = map[string]string{
	".pyw": ".py", ".jsx": ".js", ".mjs": ".js", ".cjs": ".js", ".tsx": ".ts",
	".h": ".c", ".hpp": ".cpp", ".cc": ".cpp", ".cxx": ".cpp", ".hh": ".cpp",
	".bash": ".sh", ".zsh": ".sh", ".kts": ".kt",
}

// outline is the tree-sitter registry used for symbol extraction.
var outline = sync.OnceValue(languages.Default)

// RegisterSource registers source-code files.
func RegisterSource(r *extract.Registry) {
	exts := make([]string, 0, len(sourceRules)+len(sourceAliases))
	for ext := range sourceRules {
		exts = append(exts, ext)
	}
	for ext := range sourceAliases {
		exts = append(exts, ext)
	}
	r.Register(NewSource, exts...)
}

// NewSource builds a source-code extractor.
func NewSource(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichSource)
}

func rulesFor(ext string) (codeRules, bool) {
	if alias, ok := sourceAliases[ext]; ok {
		ext = alias
	}
	rules, ok := sourceRules[ext]
	return rules, ok
}

func enrichSource(x *Text, meta extract.Metadata) error {
	rules, ok := rulesFor(x.Attributes().Extension)
	if !ok {
		return nil
	}
	counts := map[string]int{}
	for _, line := range strings.Split(x.text, "\n") {
		count(counts, "num_functions", rules.functions, line)
		count(counts, "num_classes", rules.classes, line)
		count(counts, "num_imports", rules.imports, line)
		count(counts, "num_comments", rules.comments, line)
		count(counts, "num_includes", rules.includes, line)
		count(counts, "num_defines", rules.defines, line)
	}

	meta["language"] = rules.language
	for _, k := range []string{"num_functions", "num_classes", "num_imports", "num_comments"} {
		meta[k] = counts[k]
	}
	if rules.includes != nil {
		meta["num_includes"] = counts["num_includes"]
		meta["num_defines"] = counts["num_defines"]
	}

	syms, err := outline().Outline(context.Background(), x.Path(), []byte(x.text))
	if err != nil {
		// Regex counts stand on their own when the grammar rejects the file.
		logger.Debugf("outline %s: %v", x.Path(), err)
		return nil
	}
	if syms != nil {
		meta["symbols"] = symbolNames(syms)
	}
	return nil
}

func count(counts map[string]int, key string, re *regexp.Regexp, line string) {
	if re != nil && re.MatchString(line) {
		counts[key]++
	}
}

func symbolNames(syms []syntax.Symbol) []string {
	names := make([]string, 0, len(syms))
	for _, s := range syms {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}
