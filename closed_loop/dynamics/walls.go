package dynamics

// Wall is a line segment obstacle.
type Wall struct {
	A, B        Vector2
	Restitution float64
	IsGround    bool
	Normal      Vector2
}

func NewWall(a, b Vector2, restitution float64, isGround bool) Wall {
	return Wall{
		A:           a,
		B:           b,
		Restitution: restitution,
		IsGround:    isGround,
		Normal:      Vector2{X: b.Y - a.Y, Y: a.X - b.X}.Normalize(),
	}
}

// BoxWalls returns the four edges of the axis-aligned world box [min,max]².
// Y points down, so the edge at y = max is the ground.
func BoxWalls(min, max, restitution float64) []Wall {
	return []Wall{
		NewWall(Vector2{min, max}, Vector2{max, max}, restitution, true),
		NewWall(Vector2{min, min}, Vector2{max, min}, restitution, false),
		NewWall(Vector2{min, min}, Vector2{min, max}, restitution, false),
		NewWall(Vector2{max, min}, Vector2{max, max}, restitution, false),
	}
}

// SegmentsIntersect reports whether p1p2 and p3p4 touch. Parallel segments
// only count when they share an exact endpoint.
func SegmentsIntersect(p1, p2, p3, p4 Vector2) bool {
	den := (p4.Y-p3.Y)*(p2.X-p1.X) - (p4.X-p3.X)*(p2.Y-p1.Y)
	if den == 0 {
		return p1 == p3 || p1 == p4 || p2 == p3 || p2 == p4
	}

	ua := ((p4.X-p3.X)*(p1.Y-p3.Y) - (p4.Y-p3.Y)*(p1.X-p3.X)) / den
	ub := ((p2.X-p1.X)*(p1.Y-p3.Y) - (p2.Y-p1.Y)*(p1.X-p3.X)) / den
	return ua >= 0 && ua <= 1 && ub >= 0 && ub <= 1
}

// BoxHitsSegment tests each edge of a closed polygon against a segment.
func BoxHitsSegment(box [4]Vector2, a, b Vector2) bool {
	for i := range box {
		if SegmentsIntersect(box[i], box[(i+1)%len(box)], a, b) {
			return true
		}
	}
	return false
}
