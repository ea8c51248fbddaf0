// pkg/core/method.go
package core

import "github.com/go-gl/mathgl/mgl32"

// Method identifies a rigid-body mutation that can be forwarded to the
// authoritative participant.
type Method uint32

const (
	MethodUnknown Method = iota
	MethodSetActive
	MethodSetVisible
	MethodSetTransformation
	MethodSetMass
	MethodAddForce
	MethodAddTorque
	MethodAddForceAtPosition
	MethodSetForce
	MethodSetTorque
	MethodSetStaticForce
	MethodSetStaticTorque
	MethodSetLinearVelocity
	MethodSetAngularVelocity
	MethodSetFixed
	MethodSetGravityMode
)

var methodNames = map[Method]string{
	MethodUnknown:            "unknown",
	MethodSetActive:          "setActive",
	MethodSetVisible:         "setVisible",
	MethodSetTransformation:  "setTransformation",
	MethodSetMass:            "setMass",
	MethodAddForce:           "addForce",
	MethodAddTorque:          "addTorque",
	MethodAddForceAtPosition: "addForceAtPosition",
	MethodSetForce:           "setForce",
	MethodSetTorque:          "setTorque",
	MethodSetStaticForce:     "setStaticForce",
	MethodSetStaticTorque:    "setStaticTorque",
	MethodSetLinearVelocity:  "setLinearVelocity",
	MethodSetAngularVelocity: "setAngularVelocity",
	MethodSetFixed:           "setFixed",
	MethodSetGravityMode:     "setGravityMode",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether m is a known, non-zero method.
func (m Method) Valid() bool {
	return m > MethodUnknown && m <= MethodSetGravityMode
}

// MethodArgs carries the arguments of every method. Only the fields the
// method uses are meaningful:
//
//	Flag             setActive, setVisible, setFixed, setGravityMode
//	Transform, Flag  setTransformation (Flag = forward to visual writer)
//	Mass             setMass
//	Vector, Relative addForce, addTorque, set*Velocity
//	Vector           setForce, setTorque, setStaticForce, setStaticTorque
//	Vector, Position, Relative, RelativePosition addForceAtPosition
type MethodArgs struct {
	Flag             bool
	Transform        Transform
	Mass             float32
	Vector           mgl32.Vec3
	Position         mgl32.Vec3
	Relative         bool
	RelativePosition bool
}

// MethodCall is one mutation of one body at one tick.
type MethodCall struct {
	Tick   uint32
	Body   BodyID
	Method Method
	Args   MethodArgs
}
