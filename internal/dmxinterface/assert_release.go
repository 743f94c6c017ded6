//go:build !dmxassert

package dmxinterface

const debugAssertions = false
