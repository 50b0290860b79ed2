package engine

import (
	"fmt"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
)

// Classification 共识结果的告警分类
type Classification struct {
	AlertType string
	Severity  string
	Message   string
}

// Classify 将评分共识结果映射为告警分类
//
//	!valid      → EWS_DATA_INCONSISTENCY / MEDIUM
//	score ≥ 7   → EWS_CRITICAL / HIGH
//	5 ≤ s ≤ 6   → EWS_URGENT / MEDIUM
//	3 ≤ s ≤ 4   → EWS_ELEVATED / LOW
//	其余        → 无告警（返回 nil）
func Classify(score int, valid bool) *Classification {
	switch {
	case !valid:
		return &Classification{
			AlertType: models.AlertEWSDataInconsistency,
			Severity:  models.SeverityMedium,
			Message:   fmt.Sprintf("Node scores disagree beyond threshold (indicative score %d); value not usable for clinical decisions", score),
		}
	case score >= 7:
		return &Classification{
			AlertType: models.AlertEWSCritical,
			Severity:  models.SeverityHigh,
			Message:   fmt.Sprintf("NEWS2 score %d: urgent clinical review required", score),
		}
	case score >= 5:
		return &Classification{
			AlertType: models.AlertEWSUrgent,
			Severity:  models.SeverityMedium,
			Message:   fmt.Sprintf("NEWS2 score %d: increase observation frequency", score),
		}
	case score >= 3:
		return &Classification{
			AlertType: models.AlertEWSElevated,
			Severity:  models.SeverityLow,
			Message:   fmt.Sprintf("NEWS2 score %d: elevated early warning score", score),
		}
	default:
		return nil
	}
}

// severityBase 严重级基础优先级
func severityBase(severity string) int {
	switch severity {
	case models.SeverityHigh:
		return 80
	case models.SeverityMedium:
		return 50
	case models.SeverityLow:
		return 30
	default:
		return 10
	}
}

// typeBonus 类型加成
func typeBonus(alertType string) int {
	switch alertType {
	case models.AlertEWSCritical:
		return 20
	case models.AlertEWSUrgent:
		return 15
	case models.AlertEWSElevated:
		return 10
	case models.AlertSensorCritical:
		return 18
	case models.AlertSensorWarning:
		return 8
	default:
		return 0
	}
}

// ClampPriority 优先级约束到 [1, 100]
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}

// Priority 计算告警优先级：严重级基础分 + 类型加成，约束到 [1, 100]
func Priority(alertType, severity string) int {
	return ClampPriority(severityBase(severity) + typeBonus(alertType))
}

// severityRank 匹配规则用的严重级排序
func severityRank(severity string) int {
	switch severity {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

// Matches 判断订阅是否匹配告警
//
// 规则：active；patientId 为空或相等；
// 严重级：HIGH 匹配任意 minSeverity，MEDIUM 匹配 minSeverity∈{MEDIUM,LOW}，LOW 仅匹配 minSeverity=LOW；
// 类型：alertTypes 为空或包含该类型
func Matches(sub *models.Subscription, alert *models.Alert) bool {
	if sub == nil || alert == nil {
		return false
	}
	if !sub.Active {
		return false
	}
	if sub.PatientID != nil && *sub.PatientID != alert.PatientID {
		return false
	}
	if severityRank(alert.AlertSeverity) < severityRank(sub.MinSeverity) {
		return false
	}
	if len(sub.AlertTypes) > 0 {
		found := false
		for _, t := range sub.AlertTypes {
			if t == alert.AlertType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchSubscriptions 过滤出匹配告警的订阅
func MatchSubscriptions(subs []*models.Subscription, alert *models.Alert) []*models.Subscription {
	matched := []*models.Subscription{}
	for _, sub := range subs {
		if Matches(sub, alert) {
			matched = append(matched, sub)
		}
	}
	return matched
}
