//go:build dmxassert

package dmxinterface

const debugAssertions = true
