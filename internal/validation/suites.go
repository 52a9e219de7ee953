package validation

// AirQualitySuite rejects PM2.5 values outside (-0.1, 500].
// Zero is a legitimate reading, so the lower bound sits just below it.
func AirQualitySuite() *Suite {
	return NewSuite("aq_expectation_suite",
		Between("pm25", -0.1, 500.0, true),
	)
}

// WeatherSuite rejects negative precipitation and wind speed, with a small
// tolerance for sensor noise around zero.
func WeatherSuite() *Suite {
	return NewSuite("weather_expectation_suite",
		AtLeast("precipitation_sum", -0.1),
		AtLeast("wind_speed_10m_max", -0.1),
	)
}
