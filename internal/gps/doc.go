// Package gps provides the location input: NMEA receivers on a serial port,
// gpsd over TCP, a configured fixed position, or a simulated walk.
//
// The service only tracks what the Qibla pipeline needs: position, altitude,
// horizontal accuracy and fix quality.
package gps
