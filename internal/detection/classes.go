package detection

import "strconv"

// Category groups COCO classes into the hazard kinds carried on AI_ALERT messages.
type Category string

const (
	CategoryHuman   Category = "human"
	CategoryVehicle Category = "vehicle"
	CategoryAnimal  Category = "animal"
	CategoryUnknown Category = "unknown"
	CategoryOther   Category = "other"
)

// ClassCount is the number of per-class lists the detector emits (COCO).
const ClassCount = 80

// PersonClassID is the COCO id for "person".
const PersonClassID = 0

var cocoLabels = map[int]string{
	0:  "person",
	1:  "bicycle",
	2:  "car",
	3:  "motorcycle",
	4:  "airplane",
	5:  "bus",
	6:  "train",
	7:  "truck",
	8:  "boat",
	14: "bird",
	15: "cat",
	16: "dog",
	17: "horse",
	18: "sheep",
	19: "cow",
	20: "elephant",
	21: "bear",
	22: "zebra",
	23: "giraffe",
}

// CategoryFor maps a COCO class id to its hazard category.
func CategoryFor(classID int) Category {
	switch {
	case classID == PersonClassID:
		return CategoryHuman
	case classID >= 1 && classID <= 8:
		return CategoryVehicle
	case classID >= 14 && classID <= 23:
		return CategoryAnimal
	default:
		return CategoryOther
	}
}

// IsHazardClass reports whether detections of this class are considered for track incursion.
func IsHazardClass(classID int) bool {
	return CategoryFor(classID) != CategoryOther
}

// Label returns the COCO label for a class id, or "class_<id>" when unnamed.
func Label(classID int) string {
	if l, ok := cocoLabels[classID]; ok {
		return l
	}
	return "class_" + strconv.Itoa(classID)
}

// ClassIDForLabel is the reverse of Label for named classes.
func ClassIDForLabel(label string) (int, bool) {
	for id, l := range cocoLabels {
		if l == label {
			return id, true
		}
	}
	return 0, false
}
