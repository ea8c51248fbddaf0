// pkg/core/body.go
package core

import "fmt"

// BodyID identifies a rigid body or joint across all participants.
// Bit 63 is the joint flag, bits 55..62 the class, bits 39..54 the
// instance and bits 0..31 the object number.
type BodyID uint64

const (
	jointBit      = 63
	classShift    = 55
	instanceShift = 39

	classMask    = 0xFF
	instanceMask = 0xFFFF
	objectMask   = 0xFFFFFFFF
)

// NewBodyID packs class, instance and object number into a body id.
func NewBodyID(class uint8, instance uint16, object uint32) BodyID {
	return BodyID(uint64(class)<<classShift |
		uint64(instance)<<instanceShift |
		uint64(object))
}

// NewJointID packs a joint id. Joints share the body id space but never
// carry rigid-body state.
func NewJointID(class uint8, instance uint16, object uint32) BodyID {
	return NewBodyID(class, instance, object) | 1<<jointBit
}

// IsJoint reports whether the id refers to a joint.
func (id BodyID) IsJoint() bool {
	return id>>jointBit&1 == 1
}

// Class returns the class part of the id.
func (id BodyID) Class() uint8 {
	return uint8(uint64(id) >> classShift & classMask)
}

// Instance returns the instance part of the id.
func (id BodyID) Instance() uint16 {
	return uint16(uint64(id) >> instanceShift & instanceMask)
}

// Object returns the object number.
func (id BodyID) Object() uint32 {
	return uint32(uint64(id) & objectMask)
}

func (id BodyID) String() string {
	kind := "body"
	if id.IsJoint() {
		kind = "joint"
	}
	return fmt.Sprintf("%s(%d:%d:%d)", kind, id.Class(), id.Instance(), id.Object())
}
