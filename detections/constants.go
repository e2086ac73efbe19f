package detections

const (
	InputWidth    = 640
	InputHeight   = 640
	NumAttributes = 84
	NumCandidates = 8400
	NumClasses    = NumAttributes - BoxAttributes

	ConfThreshold = 0.5
	IouThreshold  = 0.5

	RetryAttempts = 3
	RetryDelayMs  = 100
)

// BoxAttributes is the number of leading rows (x, y, w, h) before the
// per-class scores start.
const BoxAttributes = 4
