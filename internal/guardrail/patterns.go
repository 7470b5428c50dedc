package guardrail

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternSet 是从配置文件加载的额外规则。
type PatternSet struct {
	injection []*regexp.Regexp
	redactors []Redactor
}

type patternFile struct {
	Injection []string `yaml:"injection"`
	PII       []struct {
		Name        string `yaml:"name"`
		Pattern     string `yaml:"pattern"`
		Placeholder string `yaml:"placeholder"`
	} `yaml:"pii"`
}

// LoadPatterns 读取 YAML 规则文件。
func LoadPatterns(path string) (*PatternSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取护栏规则文件失败: %w", err)
	}
	return ParsePatterns(content)
}

// ParsePatterns 解析 YAML 规则内容。注入规则统一按大小写不敏感编译。
func ParsePatterns(content []byte) (*PatternSet, error) {
	var file patternFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析护栏规则失败: %w", err)
	}

	set := &PatternSet{}
	for _, raw := range file.Injection {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + raw)
		if err != nil {
			return nil, fmt.Errorf("注入规则 %q 无效: %w", raw, err)
		}
		set.injection = append(set.injection, re)
	}
	for _, item := range file.PII {
		if strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.Pattern) == "" {
			return nil, fmt.Errorf("脱敏规则缺少 name 或 pattern")
		}
		re, err := regexp.Compile(item.Pattern)
		if err != nil {
			return nil, fmt.Errorf("脱敏规则 %s 无效: %w", item.Name, err)
		}
		placeholder := item.Placeholder
		if placeholder == "" {
			placeholder = "[" + strings.ToUpper(item.Name) + "_REDACTED]"
		}
		set.redactors = append(set.redactors, Redactor{Name: item.Name, Pattern: re, Placeholder: placeholder})
	}
	return set, nil
}
