package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"
)

// 窗口与阈值
const (
	// WindowBefore 共识窗口向前回看时长
	WindowBefore = 30 * time.Second
	// WindowAfter 时钟偏移宽限
	WindowAfter = 5 * time.Second
	// TimestampThreshold 参与事件的最大时间跨度，超过则退化为 latest
	TimestampThreshold = 5 * time.Second
	// ScoreThreshold average 方法允许的绝对偏差（分）
	ScoreThreshold = 1
	// MinNodes 形成多节点共识所需的最少独立节点数
	MinNodes = 2
)

// Window 计算触发事件对应的共识窗口 [t-30s, t+5s]
func Window(observedAt time.Time) (from, to time.Time) {
	return observedAt.Add(-WindowBefore), observedAt.Add(WindowAfter)
}

// Outcome 评分共识计算结果
type Outcome struct {
	Score     int
	Timestamp time.Time
	Valid     bool
	Method    string
}

// LatestPerNode 每个节点只保留窗口内最新一条评分事件，输出按 observed_at 升序
func LatestPerNode(events []*models.ScoreEvent) []*models.ScoreEvent {
	seen := make(map[string]bool, len(events))
	latest := make([]*models.ScoreEvent, 0, len(events))

	sorted := make([]*models.ScoreEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.After(sorted[j].ObservedAt)
	})

	for _, e := range sorted {
		if seen[e.NodeID] {
			continue
		}
		seen[e.NodeID] = true
		latest = append(latest, e)
	}

	sort.Slice(latest, func(i, j int) bool {
		return latest[i].ObservedAt.Before(latest[j].ObservedAt)
	})
	return latest
}

// Resolve 对每节点一条的评分事件集合执行仲裁
//
// 与传感器仲裁同一算法族，差异：按整数 totalScore 精确分组，
// average 回退使用绝对阈值（|score−avg| ≤ 1 分）而非相对偏差
func Resolve(participants []*models.ScoreEvent) Outcome {
	if len(participants) == 0 {
		return Outcome{Valid: false, Method: models.MethodNone}
	}

	if len(participants) == 1 {
		return Outcome{
			Score:     participants[0].TotalScore,
			Timestamp: participants[0].ObservedAt,
			Valid:     true,
			Method:    models.MethodSingle,
		}
	}

	minTS, maxTS := participants[0].ObservedAt, participants[0].ObservedAt
	latest := participants[0]
	for _, p := range participants[1:] {
		if p.ObservedAt.Before(minTS) {
			minTS = p.ObservedAt
		}
		if p.ObservedAt.After(maxTS) {
			maxTS = p.ObservedAt
			latest = p
		}
	}

	if maxTS.Sub(minTS) > TimestampThreshold {
		return Outcome{
			Score:     latest.TotalScore,
			Timestamp: latest.ObservedAt,
			Valid:     true,
			Method:    models.MethodLatest,
		}
	}

	// 按整数分值分组
	groups := make(map[int][]*models.ScoreEvent)
	for _, p := range participants {
		groups[p.TotalScore] = append(groups[p.TotalScore], p)
	}

	var majorityScore int
	var majorityGroup []*models.ScoreEvent
	for score, g := range groups {
		if len(g) > len(majorityGroup) {
			majorityScore = score
			majorityGroup = g
		}
	}

	if len(majorityGroup)*2 > len(participants) {
		groupLatest := majorityGroup[0]
		for _, p := range majorityGroup[1:] {
			if p.ObservedAt.After(groupLatest.ObservedAt) {
				groupLatest = p
			}
		}
		return Outcome{
			Score:     majorityScore,
			Timestamp: groupLatest.ObservedAt,
			Valid:     true,
			Method:    models.MethodMajority,
		}
	}

	// 均值回退（四舍五入到整数分）
	var sum int
	for _, p := range participants {
		sum += p.TotalScore
	}
	avg := float64(sum) / float64(len(participants))
	rounded := int(math.Round(avg))

	withinThreshold := true
	for _, p := range participants {
		if math.Abs(float64(p.TotalScore)-avg) > ScoreThreshold {
			withinThreshold = false
			break
		}
	}

	if withinThreshold {
		return Outcome{
			Score:     rounded,
			Timestamp: maxTS,
			Valid:     true,
			Method:    models.MethodAverage,
		}
	}

	return Outcome{
		Score:     rounded,
		Timestamp: maxTS,
		Valid:     false,
		Method:    models.MethodNone,
	}
}
