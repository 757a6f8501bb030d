// Package model defines the trackable entities of the delegated payments
// pipeline and the value types they carry.
//
// Every entity that can move through a workflow implements Entity. The set of
// entity types is closed: Employee, Employer, Claim and Payment. Code that only
// needs identity (the State Log, work claims) passes a Ref instead of a fully
// loaded entity.
package model
