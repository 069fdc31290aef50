// Package mysql provides MySQL-backed repositories for the learning
// engine. It encapsulates connection pooling, schema migrations, and
// strongly typed queries for learnings, mistake patterns, and
// correction rules.
package mysql
