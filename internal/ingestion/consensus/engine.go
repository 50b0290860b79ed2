package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
)

// 窗口与阈值
const (
	// WindowBefore 共识窗口向前回看时长
	WindowBefore = 30 * time.Second
	// WindowAfter 时钟偏移宽限
	WindowAfter = 5 * time.Second
	// TimestampThreshold 参与读数的最大时间跨度，超过则退化为 latest
	TimestampThreshold = 5 * time.Second
	// DeviationThreshold average 方法允许的相对偏差（20%）
	DeviationThreshold = 0.20
	// MinNodes 形成多节点共识所需的最少独立节点数
	MinNodes = 2
)

// Window 计算触发读数对应的共识窗口 [t-30s, t+5s]
// 基于存储的时间戳而非挂钟，容忍边缘节点间的时钟偏移
func Window(observedAt time.Time) (from, to time.Time) {
	return observedAt.Add(-WindowBefore), observedAt.Add(WindowAfter)
}

// Outcome 共识计算结果
type Outcome struct {
	Value     float64
	Timestamp time.Time
	Valid     bool
	Method    string
}

// LatestPerNode 每个节点只保留窗口内最新一条读数
// 输入按 observed_at 降序时保持确定性；输出按 observed_at 升序
func LatestPerNode(readings []*models.SensorReading) []*models.SensorReading {
	seen := make(map[string]bool, len(readings))
	latest := make([]*models.SensorReading, 0, len(readings))

	sorted := make([]*models.SensorReading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.After(sorted[j].ObservedAt)
	})

	for _, r := range sorted {
		if seen[r.NodeID] {
			continue
		}
		seen[r.NodeID] = true
		latest = append(latest, r)
	}

	sort.Slice(latest, func(i, j int) bool {
		return latest[i].ObservedAt.Before(latest[j].ObservedAt)
	})
	return latest
}

// Resolve 对每节点一条的读数集合执行仲裁
//
// 1. 单节点 → single
// 2. 时间跨度 > 5s → latest（不把陈旧点当法定人数）
// 3. 精确值多数（> count/2）→ majority，时间戳取该组内最新
// 4. 无多数且全部 |v−avg|/avg ≤ 0.20 → average
// 5. 否则 → none（valid=false，值仍为均值，供展示用）
func Resolve(participants []*models.SensorReading) Outcome {
	if len(participants) == 0 {
		return Outcome{Valid: false, Method: models.MethodNone}
	}

	if len(participants) == 1 {
		return Outcome{
			Value:     participants[0].Value,
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
			Value:     latest.Value,
			Timestamp: latest.ObservedAt,
			Valid:     true,
			Method:    models.MethodLatest,
		}
	}

	// 按精确值分组
	groups := make(map[float64][]*models.SensorReading)
	for _, p := range participants {
		groups[p.Value] = append(groups[p.Value], p)
	}

	var majorityValue float64
	var majorityGroup []*models.SensorReading
	for v, g := range groups {
		if len(g) > len(majorityGroup) {
			majorityValue = v
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
			Value:     majorityValue,
			Timestamp: groupLatest.ObservedAt,
			Valid:     true,
			Method:    models.MethodMajority,
		}
	}

	// 均值回退
	var sum float64
	for _, p := range participants {
		sum += p.Value
	}
	avg := sum / float64(len(participants))

	withinDeviation := true
	if avg == 0 {
		// 均值为零时无法计算相对偏差，只有全零集合能通过
		for _, p := range participants {
			if p.Value != 0 {
				withinDeviation = false
				break
			}
		}
	} else {
		for _, p := range participants {
			if math.Abs(p.Value-avg)/math.Abs(avg) > DeviationThreshold {
				withinDeviation = false
				break
			}
		}
	}

	if withinDeviation {
		return Outcome{
			Value:     avg,
			Timestamp: maxTS,
			Valid:     true,
			Method:    models.MethodAverage,
		}
	}

	return Outcome{
		Value:     avg,
		Timestamp: maxTS,
		Valid:     false,
		Method:    models.MethodNone,
	}
}
