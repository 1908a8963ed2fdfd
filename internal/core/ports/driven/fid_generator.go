package driven

// FIDGenerator creates new random installation ids.
type FIDGenerator interface {
	CreateRandomFID() string
}
