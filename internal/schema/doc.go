// Package schema describes the shape every structured AI response must take
// and validates decoded responses against it.
//
// A Schema is plain data: an ordered list of Fields with a type, a required
// flag and optional constraints (enum, numeric bounds, item counts). Schemas
// are used for validation and to instruct providers which shape to emit; they
// are never used for transport. Validation is a pure function that either
// returns the decoded Record or a *ValidationError listing every Issue found.
//
// Built-in schemas cover the enrichment tasks shipped with the service
// (opinion classification, company profiles, translation, narrative
// postulations and the company search shapes). Additional schemas can be
// loaded from YAML files.
package schema
