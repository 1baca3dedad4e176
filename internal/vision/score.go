package vision

// SceneScore computes a scene-complexity score as the variance of a 4-neighbor
// Laplacian response over the luminance plane. High values mean a textured,
// detailed scene (favors detection); low values mean a smooth scene (favors
// density estimation).
func SceneScore(f *Frame) float64 {
	if f.Width < 3 || f.Height < 3 {
		return 0
	}

	n := 0
	var sum, sumSq float64
	for y := 1; y < f.Height-1; y++ {
		row := y * f.Width
		for x := 1; x < f.Width-1; x++ {
			center := float64(f.Pixels[row+x])
			lap := float64(f.Pixels[row+x-1]) +
				float64(f.Pixels[row+x+1]) +
				float64(f.Pixels[row-f.Width+x]) +
				float64(f.Pixels[row+f.Width+x]) -
				4*center
			sum += lap
			sumSq += lap * lap
			n++
		}
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
