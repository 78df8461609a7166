package store

// By is an interface type passed to Find methods. Implementations must be
// defined in this package.
type By interface {
	// isBy allows this interface to only be satisfied by certain internal
	// types.
	isBy()
}

type byAll struct{}

func (a byAll) isBy() {
}

// All is an argument that can be passed to find to list all items in the
// set.
var All byAll

type byLinearIDs []string

func (b byLinearIDs) isBy() {
}

// ByLinearIDs creates an object to pass to Find to select the revisions of
// any of the given linear states.
func ByLinearIDs(ids ...string) By {
	return byLinearIDs(ids)
}

type byParticipants []string

func (b byParticipants) isBy() {
}

// ByParticipants creates an object to pass to Find to select states visible
// to any of the given parties.
func ByParticipants(parties ...string) By {
	return byParticipants(parties)
}

type bySchemas []string

func (b bySchemas) isBy() {
}

// BySchemas creates an object to pass to Find to select states whose payload
// uses any of the given schema tags.
func BySchemas(schemas ...string) By {
	return bySchemas(schemas)
}
