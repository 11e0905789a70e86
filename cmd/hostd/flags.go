package main

import "time"

// Flag structs decouple cobra from the handlers for testing.

type ServeFlags struct {
	ConfigPath string
}

type StartFlags struct {
	Name        string
	Kind        string
	Exec        string
	WorkDir     string
	Args        []string
	EnvKVs      []string
	Ports       []uint
	HeapGB      int
	JavaProfile string
	ExtraFlags  []string
	StopCommand string
	StopTimeout time.Duration
	AutoRestart bool
	MaxRestarts int

	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name string

	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	Name string
	Wait time.Duration

	APIUrl     string
	APITimeout time.Duration
}

type RconFlags struct {
	Name    string
	Command string

	APIUrl     string
	APITimeout time.Duration
}

type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
