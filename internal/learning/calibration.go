package learning

import (
	"math"

	"AgentGov-Core/internal/ledger"
)

// maxThresholdDelta 是单次校准允许的阈值变化上限。
const maxThresholdDelta = 0.15

// BuildCalibration 把带事后结论的置信度样本分成十个等宽桶并计算
// 期望校准误差。每个桶的参考点是桶内观测到的平均置信度而不是桶
// 中点，空桶不参与计算。
//
//	ECE = Σ (n_b / N) × |accuracy_b − meanConfidence_b|
//
// Adjustment 是建议的阈值变化量：整体过度自信时为正（收紧阈值），
// 整体欠自信时为负，量级截断在 ±0.15。
func BuildCalibration(agentID string, rows []ledger.CalibrationRow) CalibrationReport {
	report := CalibrationReport{AgentID: agentID, Samples: len(rows)}
	if len(rows) == 0 {
		return report
	}

	type accumulator struct {
		count         int
		correct       int
		confidenceSum float64
	}
	buckets := make([]accumulator, 10)
	for _, row := range rows {
		idx := bucketIndex(row.Confidence)
		buckets[idx].count++
		buckets[idx].confidenceSum += row.Confidence
		if row.Correct {
			buckets[idx].correct++
		}
	}

	total := float64(len(rows))
	var ece, signedGapSum float64
	for i, bucket := range buckets {
		if bucket.count == 0 {
			continue
		}
		mean := bucket.confidenceSum / float64(bucket.count)
		accuracy := float64(bucket.correct) / float64(bucket.count)
		gap := accuracy - mean
		weight := float64(bucket.count) / total
		ece += weight * math.Abs(gap)
		signedGapSum += weight * gap
		report.Buckets = append(report.Buckets, CalibrationBucket{
			Low:            float64(i) / 10,
			High:           float64(i+1) / 10,
			Count:          bucket.count,
			MeanConfidence: mean,
			Accuracy:       accuracy,
			Gap:            gap,
		})
	}
	report.ECE = ece
	report.Adjustment = clampDelta(-signedGapSum)
	return report
}

// bucketIndex 把 [0,1] 的置信度映射到十个桶，1.0 归入最后一个桶。
func bucketIndex(confidence float64) int {
	if confidence >= 1 {
		return 9
	}
	if confidence < 0 {
		return 0
	}
	return int(confidence * 10)
}

func clampDelta(delta float64) float64 {
	if delta > maxThresholdDelta {
		return maxThresholdDelta
	}
	if delta < -maxThresholdDelta {
		return -maxThresholdDelta
	}
	return delta
}
