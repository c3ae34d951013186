// Package guid defines RTPS-style endpoint identifiers.
//
// A GUID is 16 bytes: a 12-byte participant prefix followed by a 4-byte
// entity id. Prefixes are minted by a Generator; entity ids are either
// well-known builtin values or allocated per endpoint by the runtime.
//
//	g := guid.NewGenerator()
//	prefix := g.NextPrefix()
//	w := guid.New(prefix, guid.NewEntityID(1, guid.KindWriterNoKey))
//	fmt.Println(w) // 010f.a1b2c3d4e5f6.00000001|00000103
package guid
