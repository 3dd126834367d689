package module

import (
	"fmt"
	"strings"
)

// Stage 流水线阶段（对外导出）
type Stage string

const (
	StagePrepare  Stage = "prepare"
	StageOpen     Stage = "open"
	StageIntraday Stage = "intraday"
	StageEOD      Stage = "eod"
)

// AllStages 按执行顺序排列的全部阶段
var AllStages = []Stage{StagePrepare, StageOpen, StageIntraday, StageEOD}

// ParseStage 解析阶段名称（大小写不敏感）
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllStages {
		if st == stage {
			return st, nil
		}
	}
	return "", fmt.Errorf("非法的阶段: %q", s)
}

// ParseStageOption 解析命令行的--stage参数，"all"展开为全部阶段
func ParseStageOption(s string) ([]Stage, error) {
	if s == "" || strings.EqualFold(s, "all") {
		return append([]Stage(nil), AllStages...), nil
	}
	stage, err := ParseStage(s)
	if err != nil {
		return nil, err
	}
	return []Stage{stage}, nil
}

// IntersectStages 返回模块声明的阶段中属于本次运行的部分，顺序与模块声明一致
func IntersectStages(declared []string, requested []Stage) []Stage {
	want := make(map[Stage]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var out []Stage
	for _, d := range declared {
		st, err := ParseStage(d)
		if err != nil {
			continue
		}
		if want[st] {
			out = append(out, st)
		}
	}
	return out
}
