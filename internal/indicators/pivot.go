package indicators

// FindPivotHighs 在序列中查找局部枢轴高点
//
// 索引i为枢轴高点，当且仅当series[i]是[i-halfWindow, i+halfWindow]
// 范围内的严格最大值。距离序列边缘不足halfWindow的索引不参与判定，
// 相等值（平顶）不视为枢轴。返回的索引按输入顺序排列。
func FindPivotHighs(series []float64, halfWindow int) []int {
	if halfWindow <= 0 || len(series) < 2*halfWindow+1 {
		return nil
	}

	var pivots []int
	for i := halfWindow; i < len(series)-halfWindow; i++ {
		isPivot := true
		for j := i - halfWindow; j <= i+halfWindow; j++ {
			if j == i {
				continue
			}
			if series[j] >= series[i] {
				isPivot = false
				break
			}
		}
		if isPivot {
			pivots = append(pivots, i)
		}
	}

	return pivots
}

// FindPivotLows 在序列中查找局部枢轴低点，规则与FindPivotHighs镜像对称
func FindPivotLows(series []float64, halfWindow int) []int {
	if halfWindow <= 0 || len(series) < 2*halfWindow+1 {
		return nil
	}

	var pivots []int
	for i := halfWindow; i < len(series)-halfWindow; i++ {
		isPivot := true
		for j := i - halfWindow; j <= i+halfWindow; j++ {
			if j == i {
				continue
			}
			if series[j] <= series[i] {
				isPivot = false
				break
			}
		}
		if isPivot {
			pivots = append(pivots, i)
		}
	}

	return pivots
}
